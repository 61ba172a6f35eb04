// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/pawdentify/internal/logger"
)

// setDefaultConfig sets default values for every key. Keys without a
// default are not picked up from the environment by Unmarshal.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("logging.default_level", logger.DefaultLogLevel)
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.file_output.enabled", logger.DefaultFileEnabled)
	v.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	v.SetDefault("logging.file_output.max_size", logger.DefaultMaxSize)
	v.SetDefault("logging.file_output.max_age", logger.DefaultMaxAge)
	v.SetDefault("logging.file_output.max_rotated_files", logger.DefaultMaxRotatedFiles)
	v.SetDefault("logging.file_output.compress", logger.DefaultCompressLogs)
	v.SetDefault("logging.file_output.level", logger.DefaultLogLevel)

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.bodylimit", "12M")
	v.SetDefault("server.readtimeout", 30*time.Second)
	v.SetDefault("server.writetimeout", 0) // SSE streams stay open
	v.SetDefault("server.shutdowntimeout", 10*time.Second)
	v.SetDefault("server.accesslog", true)

	v.SetDefault("classifier.endpoint", "http://localhost:8000")
	v.SetDefault("classifier.timeout", 30*time.Second)
	v.SetDefault("classifier.threshold", 0.3)
	v.SetDefault("classifier.maxuploadmb", 10)

	v.SetDefault("sources.useragent", "")
	v.SetDefault("sources.timeout", 15*time.Second)

	v.SetDefault("sources.dogceo.enabled", true)
	v.SetDefault("sources.dogceo.baseurl", "https://dog.ceo/api")
	v.SetDefault("sources.dogceo.requestlimit", 1000)
	v.SetDefault("sources.dogceo.window", time.Hour)
	v.SetDefault("sources.dogceo.timeout", 10*time.Second)

	v.SetDefault("sources.unsplash.enabled", true)
	v.SetDefault("sources.unsplash.baseurl", "https://api.unsplash.com")
	v.SetDefault("sources.unsplash.accesskey", "")
	v.SetDefault("sources.unsplash.querysuffix", "dog breed")
	v.SetDefault("sources.unsplash.requestlimit", 50)
	v.SetDefault("sources.unsplash.window", time.Hour)
	v.SetDefault("sources.unsplash.timeout", 10*time.Second)

	v.SetDefault("cache.maxentries", 50)
	v.SetDefault("cache.expiry", 24*time.Hour)
	v.SetDefault("cache.preloadthreshold", 5)
	v.SetDefault("cache.preloadinterval", 200*time.Millisecond)
	v.SetDefault("cache.maintenanceinterval", time.Hour)
	v.SetDefault("cache.statsinterval", 5*time.Minute)
	v.SetDefault("cache.preload.onstartup", false)
	v.SetDefault("cache.preload.breeds", []string{})
	v.SetDefault("cache.preload.favorites", []string{})

	v.SetDefault("cache.durable.type", "file")
	v.SetDefault("cache.durable.slotname", "pawdentify_image_cache")
	v.SetDefault("cache.durable.entries", 10)
	v.SetDefault("cache.durable.maxentries", 20)
	v.SetDefault("cache.durable.maxbytes", 100_000)
	v.SetDefault("cache.durable.file.path", "data/imagecache.json")
	v.SetDefault("cache.durable.sqlite.path", "data/pawdentify.db")
	v.SetDefault("cache.durable.mysql.host", "localhost")
	v.SetDefault("cache.durable.mysql.port", "3306")
	v.SetDefault("cache.durable.mysql.username", "")
	v.SetDefault("cache.durable.mysql.password", "")
	v.SetDefault("cache.durable.mysql.database", "pawdentify")
	v.SetDefault("cache.durable.redis.addr", "localhost:6379")
	v.SetDefault("cache.durable.redis.username", "")
	v.SetDefault("cache.durable.redis.password", "")
	v.SetDefault("cache.durable.redis.db", 0)

	v.SetDefault("events.buffersize", 1000)
	v.SetDefault("events.workers", 2)

	v.SetDefault("breeds.overridespath", "")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
	v.SetDefault("sentry.debug", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9090")
}
