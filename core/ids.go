package core

// Command ids. They follow registration order in NewBridge and are shared
// with the host, which may also learn them from the dictionary.
const (
	CmdADCStatus      uint16 = 0  // response: oid cmd code
	CmdADCSample      uint16 = 1  // response: oid channel value
	CmdConfigADC      uint16 = 2  // oid instance dma timer trigger freq channels
	CmdADCSetup       uint16 = 3  // oid
	CmdADCShutdown    uint16 = 4  // oid
	CmdADCReset       uint16 = 5  // oid
	CmdADCRxInt       uint16 = 6  // oid enable
	CmdADCIoctl       uint16 = 7  // oid cmd arg
	CmdADCSampleTime  uint16 = 8  // oid all value channels
	CmdADCFault       uint16 = 9  // response: oid kind value
	CmdIdentify       uint16 = 10 // offset count
	CmdIdentifyResp   uint16 = 11 // response: offset data
	CmdADCSetChannels uint16 = 12 // oid channels
)

// Formats of the commands above, as published in the dictionary.
const (
	FmtADCStatus      = "oid=%c cmd=%hu code=%c"
	FmtADCSample      = "oid=%c channel=%c value=%hu"
	FmtConfigADC      = "oid=%c instance=%c dma=%c timer=%c trigger=%c freq=%u channels=%*s"
	FmtOID            = "oid=%c"
	FmtADCRxInt       = "oid=%c enable=%c"
	FmtADCIoctl       = "oid=%c cmd=%hu arg=%u"
	FmtADCSampleTime  = "oid=%c all=%c value=%c channels=%*s"
	FmtADCFault       = "oid=%c kind=%c value=%u"
	FmtIdentify       = "offset=%u count=%c"
	FmtIdentifyResp   = "offset=%u data=%*s"
	FmtADCSetChannels = "oid=%c channels=%*s"
)
