package ambarpc

// Known message ids.
const (
	MsgConfigGet    = 1
	MsgConfigSet    = 2
	MsgConfigGetAll = 3

	MsgFormat       = 4
	MsgStorageUsage = 5

	MsgStatus  = 7
	MsgBattery = 13

	MsgAuthenticate = 257
	MsgPreviewStart = 259
	// 258 ends the current session, 260 only stops the preview
	MsgPreviewStop = 260

	MsgRecordStart = 513
	MsgRecordStop  = 514
	MsgRecordTime  = 515
	MsgCapture     = 769

	MsgMediaInfo = 1026
	MsgRm        = 1281
	// a file path instead of a directory crashes the server
	MsgLs = 1282
	MsgCd = 1283

	// declared only, transfers are not implemented
	MsgDownloadChunk  = 1285
	MsgUploadChunk    = 1286
	MsgDownloadCancel = 1287

	MsgGetSingleSettingOptions = 9
	MsgDigitalZoomSet          = 14
	MsgDigitalZoom             = 15
	MsgBitrate                 = 16
	MsgGetThumb                = 1025
	MsgQuerySessionHolder      = 1793
	MsgSDType                  = 16777217
	MsgSDSpeed                 = 16777218
	// followed by a wifi_will_shutdown event, can take up to two minutes
	MsgRestartWifi = 16777225
)

// NoMessageID is reported to wildcard raw handlers for messages missing msg_id.
const NoMessageID = -1

// Event names observed on MsgStatus messages.
const (
	EventPhotoTaken       = "photo_taken"
	EventViewfinderStart  = "vf_start"
	EventViewfinderStop   = "vf_stop"
	EventRecordComplete   = "video_record_complete"
	EventWifiWillShutdown = "wifi_will_shutdown"
)
