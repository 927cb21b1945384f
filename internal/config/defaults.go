package config

const (
	defaultMasterHost              = "0.0.0.0"
	defaultMasterPort              = 8000
	defaultStateDir                = "~/.local/share/ffarm"
	defaultLogDir                  = "~/.local/share/ffarm/logs"
	defaultJournalFile             = "journal.db"
	defaultRetryCeiling            = 3
	defaultHeartbeatTimeout        = 30
	defaultSweepInterval           = 5
	defaultMasterURL               = "http://127.0.0.1:8000"
	defaultWorkerHeartbeatInterval = 10
	defaultWorkerPollInterval      = 2
	defaultWorkerRequestTimeout    = 15
	defaultEncoder                 = EncoderFFmpeg
	defaultFFmpegBinary            = "ffmpeg"
	defaultFFprobeBinary           = "ffprobe"
	defaultScratchDir              = "~/.cache/ffarm/scratch"
	defaultWatchContainer          = "mkv"
	defaultWatchSettleTime         = 5
	defaultNotifyTimeout           = 10
	defaultLogFormat               = "auto"
	defaultLogLevel                = "info"
)

// Encoder backends understood by the worker.
const (
	EncoderFFmpeg = "ffmpeg"
	EncoderDrapto = "drapto"
)

var defaultWatchExtensions = []string{".mkv", ".mp4", ".mov", ".avi", ".m4v", ".ts"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Master: Master{
			Host:     defaultMasterHost,
			Port:     defaultMasterPort,
			StateDir: defaultStateDir,
		},
		Scheduler: Scheduler{
			RetryCeiling:     defaultRetryCeiling,
			HeartbeatTimeout: defaultHeartbeatTimeout,
			SweepInterval:    defaultSweepInterval,
		},
		Worker: Worker{
			MasterURL:         defaultMasterURL,
			HeartbeatInterval: defaultWorkerHeartbeatInterval,
			PollInterval:      defaultWorkerPollInterval,
			RequestTimeout:    defaultWorkerRequestTimeout,
			Encoder:           defaultEncoder,
			FFmpegBinary:      defaultFFmpegBinary,
			FFprobeBinary:     defaultFFprobeBinary,
			ScratchDir:        defaultScratchDir,
		},
		Storage: Storage{
			Journal: true,
		},
		Watch: Watch{
			Container:  defaultWatchContainer,
			Extensions: append([]string(nil), defaultWatchExtensions...),
			SettleTime: defaultWatchSettleTime,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			JobSucceeded:   true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
			Dir:    defaultLogDir,
		},
	}
}
