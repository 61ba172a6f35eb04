package logger

import "gopkg.in/natefinch/lumberjack.v2"

// rotationSettings holds size-based rotation parameters for one log file
type rotationSettings struct {
	MaxSize    int // MB
	MaxAge     int // days
	MaxBackups int
	Compress   bool
}

func rotationFromFileOutput(fo *FileOutput) rotationSettings {
	if fo == nil {
		return rotationSettings{MaxSize: DefaultMaxSize}
	}
	return rotationSettings{
		MaxSize:    fo.MaxSize,
		MaxAge:     fo.MaxAge,
		MaxBackups: fo.MaxRotatedFiles,
		Compress:   fo.Compress,
	}
}

// rotationFromModuleOutput resolves module settings, falling back to the
// main file output for any zero value.
func rotationFromModuleOutput(mo *ModuleOutput, fo *FileOutput) rotationSettings {
	rs := rotationFromFileOutput(fo)
	if mo == nil {
		return rs
	}
	if mo.MaxSize > 0 {
		rs.MaxSize = mo.MaxSize
	}
	if mo.MaxAge > 0 {
		rs.MaxAge = mo.MaxAge
	}
	if mo.MaxRotatedFiles > 0 {
		rs.MaxBackups = mo.MaxRotatedFiles
	}
	if mo.Compress != nil {
		rs.Compress = *mo.Compress
	}
	return rs
}

// newRotatingWriter returns a lumberjack writer for path. lumberjack treats a
// zero MaxSize as its own 100MB default.
func newRotatingWriter(path string, rs rotationSettings) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rs.MaxSize,
		MaxAge:     rs.MaxAge,
		MaxBackups: rs.MaxBackups,
		Compress:   rs.Compress,
		LocalTime:  true,
	}
}
