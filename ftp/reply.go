package ftp

// Reply status codes sent on the control connection.
const (
	StatusDataOpen        = 150
	StatusOK              = 200
	StatusSystemStatus    = 211
	StatusFileStatus      = 213
	StatusSystemType      = 215
	StatusReady           = 220
	StatusClosing         = 221
	StatusTransferDone    = 226
	StatusPassive         = 227
	StatusExtendedPassive = 229
	StatusLoggedIn        = 230
	StatusFileActionOK    = 250
	StatusPathCreated     = 257
	StatusPendingInfo     = 350
	StatusBusy            = 400
	StatusNotImplemented  = 502
	StatusBadParameter    = 504
	StatusFail            = 550
)

const (
	msgOK          = "OK"
	msgFail        = "Fail"
	msgDone        = "Done."
	msgDataOpened  = "Opened data connection."
	msgListing     = "Directory listing:"
	msgLoggedIn    = "Logged in."
	msgSystemType  = "UNIX Type: L8"
	msgBye         = "Bye."
	msgBusy        = "Device busy."
	msgUnsupported = "Unsupported command."
	msgRenameFrom  = "Rename from"
)
