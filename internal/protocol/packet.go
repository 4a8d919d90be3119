// Package protocol defines the command set, packet header and packed payload
// records spoken with the HDLGameInstaller server.
package protocol

// Command is the 32-bit command code carried in every Header.
type Command uint32

// Command codes. Each code fixes the payload shape in both directions.
const (
	CmdResponse    Command = 0x00
	CmdGetVersion  Command = 0x01
	CmdSendVersion Command = 0x02
	CmdVersionErr  Command = 0x03 // server rejects the client version

	// Game installation.
	CmdPrepGameInstall   Command = 0x10 // creates a partition, then behaves as CmdInitGameWrite
	CmdInitGameWrite     Command = 0x11
	CmdInitGameRead      Command = 0x12
	CmdIOStatus          Command = 0x13
	CmdCloseGame         Command = 0x14
	CmdLoadGameList      Command = 0x15
	CmdReadGameList      Command = 0x16
	CmdReadGameListEntry Command = 0x17
	CmdReadGameEntry     Command = 0x18
	CmdUpdGameEntry      Command = 0x19
	CmdDelGameEntry      Command = 0x1A
	CmdGetGamePartName   Command = 0x1B
	CmdGetFreeSpace      Command = 0x1C

	// OSD resource management.
	CmdInitOSDResources        Command = 0x20
	CmdOSDResLoadInit          Command = 0x21
	CmdOSDResLoad              Command = 0x22
	CmdWriteOSDResources       Command = 0x23
	CmdOSDResWriteCancel       Command = 0x24
	CmdGetOSDResStat           Command = 0x25
	CmdOSDResRead              Command = 0x26
	CmdOSDResReadTitles        Command = 0x27
	CmdInitDefaultOSDResources Command = 0x28 // like CmdInitOSDResources, for uploading pre-built resources
	CmdOSDMcSaveCheck          Command = 0x40
	CmdOSDMcGetResStat         Command = 0x41
	CmdOSDMcResRead            Command = 0x42

	CmdShutdown Command = 0xFF
)

// Commands lists every defined command code.
var Commands = []Command{
	CmdResponse, CmdGetVersion, CmdSendVersion, CmdVersionErr,
	CmdPrepGameInstall, CmdInitGameWrite, CmdInitGameRead, CmdIOStatus,
	CmdCloseGame, CmdLoadGameList, CmdReadGameList, CmdReadGameListEntry,
	CmdReadGameEntry, CmdUpdGameEntry, CmdDelGameEntry, CmdGetGamePartName,
	CmdGetFreeSpace,
	CmdInitOSDResources, CmdOSDResLoadInit, CmdOSDResLoad, CmdWriteOSDResources,
	CmdOSDResWriteCancel, CmdGetOSDResStat, CmdOSDResRead, CmdOSDResReadTitles,
	CmdInitDefaultOSDResources, CmdOSDMcSaveCheck, CmdOSDMcGetResStat,
	CmdOSDMcResRead,
	CmdShutdown,
}

var commandNames = map[Command]string{
	CmdResponse:                "RESPONSE",
	CmdGetVersion:              "GET_VERSION",
	CmdSendVersion:             "SEND_VERSION",
	CmdVersionErr:              "VERSION_ERR",
	CmdPrepGameInstall:         "PREP_GAME_INST",
	CmdInitGameWrite:           "INIT_GAME_WRITE",
	CmdInitGameRead:            "INIT_GAME_READ",
	CmdIOStatus:                "IO_STATUS",
	CmdCloseGame:               "CLOSE_GAME",
	CmdLoadGameList:            "LOAD_GAME_LIST",
	CmdReadGameList:            "READ_GAME_LIST",
	CmdReadGameListEntry:       "READ_GAME_LIST_ENTRY",
	CmdReadGameEntry:           "READ_GAME_ENTRY",
	CmdUpdGameEntry:            "UPD_GAME_ENTRY",
	CmdDelGameEntry:            "DEL_GAME_ENTRY",
	CmdGetGamePartName:         "GET_GAME_PART_NAME",
	CmdGetFreeSpace:            "GET_FREE_SPACE",
	CmdInitOSDResources:        "INIT_OSD_RESOURCES",
	CmdOSDResLoadInit:          "OSD_RES_LOAD_INIT",
	CmdOSDResLoad:              "OSD_RES_LOAD",
	CmdWriteOSDResources:       "WRITE_OSD_RESOURCES",
	CmdOSDResWriteCancel:       "OSD_RES_WRITE_CANCEL",
	CmdGetOSDResStat:           "GET_OSD_RES_STAT",
	CmdOSDResRead:              "OSD_RES_READ",
	CmdOSDResReadTitles:        "OSD_RES_READ_TITLES",
	CmdInitDefaultOSDResources: "INIT_DEFAULT_OSD_RESOURCES",
	CmdOSDMcSaveCheck:          "OSD_MC_SAVE_CHECK",
	CmdOSDMcGetResStat:         "OSD_MC_GET_RES_STAT",
	CmdOSDMcResRead:            "OSD_MC_RES_READ",
	CmdShutdown:                "SHUTDOWN",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// Protocol constants shared by both ends.
const (
	Version         int32 = 0x0C // server and client version must be equal
	CommandPort           = 45061
	DataPort              = 45062
	SectorSize            = 2048 // native addressing unit of every transfer
	HeaderSize            = 12   // Command(4) + PayloadLength(4) + Result(4)
	PartitionLength       = 32
	DiscIDLength          = 10
	FilenameLength        = 13
	TitleMaxBytes         = 160 // game title, UTF-8
	OSDTitleMaxChars      = 16
	OSDTitleMaxBytes      = OSDTitleMaxChars * 4

	// ResultInstallSuccess is the positive result some OSD commands return to
	// signal that resources were accepted from the save data.
	ResultInstallSuccess int32 = 1
)

// Header precedes every payload on the command channel.
// PayloadLength is authoritative for how many bytes follow; Result is only
// meaningful on responses.
type Header struct {
	Command       Command
	PayloadLength uint32
	Result        int32
}
