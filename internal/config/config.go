package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/spf13/viper"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "vehiclesim.config.json"

// SimConfig holds the fixed tick and prediction settings of a session.
type SimConfig struct {
	TickRate                float64
	TimeScale               float64
	Gravity                 mgl64.Vec3
	ReconcileTickStep       uint32
	SmoothingDuration       float64
	ObjectSmoothingDuration float64
	VehicleFile             string
	Preset                  string
}

// TickDelta is the fixed simulation step in seconds.
func (c SimConfig) TickDelta() float64 {
	if c.TickRate <= 0 {
		return 0.02
	}
	return 1 / c.TickRate
}

// NetConfig holds transport settings.
type NetConfig struct {
	Listen               string
	RecordListen         string
	Secret               string
	ServerURL            string
	SendBuffer           int
	MaxReconnectAttempts int
	AckTimeout           time.Duration
}

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds the in-memory sqlite backend settings.
type SQLiteConfig struct {
	DumpInterval time.Duration
	OutputDir    string
}

// WebSocketConfig holds the remote recorder settings.
type WebSocketConfig struct {
	URL    string
	Secret string
}

// StorageConfig selects and configures the recording backend.
type StorageConfig struct {
	Type      string
	Memory    MemoryConfig
	SQLite    SQLiteConfig
	WebSocket WebSocketConfig
}

// DBConfig holds the postgres connection settings.
type DBConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	SSLMode  string
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// InfluxConfig holds the telemetry time series settings.
type InfluxConfig struct {
	Enabled  bool
	Protocol string
	Host     string
	Port     string
	Token    string
	Org      string
	Bucket   string
}

// GeoConfig anchors the simulation origin on the globe.
type GeoConfig struct {
	OriginLon float64
	OriginLat float64
}

// SurfaceConfig is one entry of the surface table.
type SurfaceConfig struct {
	Name                string  `json:"name" mapstructure:"name"`
	Friction            float64 `json:"friction" mapstructure:"friction"`
	UseColliderFriction bool    `json:"useColliderFriction" mapstructure:"useColliderFriction"`
}

// RegionConfig marks a polygon of the ground, in x/z metres, as one surface type.
type RegionConfig struct {
	SurfaceType int    `json:"surfaceType" mapstructure:"surfaceType"`
	WKT         string `json:"wkt" mapstructure:"wkt"`
}

// SceneConfig describes the static world every peer builds identically.
type SceneConfig struct {
	Surfaces       []SurfaceConfig
	DefaultSurface int
	Regions        []RegionConfig
	Crates         int
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("defaultTag", "Session")
	viper.SetDefault("logsDir", "./logs")
	viper.SetDefault("stateTrace", false)

	viper.SetDefault("sim.tickRate", 50.0)
	viper.SetDefault("sim.timeScale", 1.0)
	viper.SetDefault("sim.gravity", []float64{0, -9.81, 0})
	viper.SetDefault("sim.reconcileTickStep", 10)
	viper.SetDefault("sim.smoothingDuration", 0.125)
	viper.SetDefault("sim.objectSmoothingDuration", 0.05)
	viper.SetDefault("sim.vehicleFile", "")
	viper.SetDefault("sim.preset", "car")

	viper.SetDefault("net.listen", ":7777")
	viper.SetDefault("net.recordListen", ":7778")
	viper.SetDefault("net.secret", "")
	viper.SetDefault("net.serverUrl", "ws://127.0.0.1:7777/ws")
	viper.SetDefault("net.sendBuffer", 10000)
	viper.SetDefault("net.maxReconnectAttempts", 10)
	viper.SetDefault("net.ackTimeout", "5s")

	viper.SetDefault("api.serverUrl", "http://localhost:5000")
	viper.SetDefault("api.apiKey", "")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "vehiclesim")
	viper.SetDefault("db.sslmode", "disable")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "vehiclesim")
	viper.SetDefault("influx.bucket", "vehicle_telemetry")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./recordings")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.outputDir", "./recordings")
	viper.SetDefault("storage.websocket.url", "ws://127.0.0.1:7778/record")
	viper.SetDefault("storage.websocket.secret", "")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "vehiclesim")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("scene.defaultSurface", 0)
	viper.SetDefault("scene.crates", 0)

	viper.SetDefault("geo.originLon", 0.0)
	viper.SetDefault("geo.originLat", 0.0)
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. A missing file leaves the
// defaults in place.
func Load(configDir string) error {
	setDefaults()

	viper.SetEnvPrefix("VEHICLESIM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetFloat returns a float config value.
func GetFloat(key string) float64 {
	return viper.GetFloat64(key)
}

// GetVec3 reads a three element array. Anything else yields the zero vector.
func GetVec3(key string) mgl64.Vec3 {
	var v mgl64.Vec3
	switch raw := viper.Get(key).(type) {
	case []float64:
		if len(raw) == 3 {
			copy(v[:], raw)
		}
	case []any:
		if len(raw) != 3 {
			return v
		}
		for i, e := range raw {
			switch n := e.(type) {
			case float64:
				v[i] = n
			case int:
				v[i] = float64(n)
			}
		}
	}
	return v
}

func GetSimConfig() SimConfig {
	return SimConfig{
		TickRate:                viper.GetFloat64("sim.tickRate"),
		TimeScale:               viper.GetFloat64("sim.timeScale"),
		Gravity:                 GetVec3("sim.gravity"),
		ReconcileTickStep:       viper.GetUint32("sim.reconcileTickStep"),
		SmoothingDuration:       viper.GetFloat64("sim.smoothingDuration"),
		ObjectSmoothingDuration: viper.GetFloat64("sim.objectSmoothingDuration"),
		VehicleFile:             viper.GetString("sim.vehicleFile"),
		Preset:                  viper.GetString("sim.preset"),
	}
}

func GetNetConfig() NetConfig {
	return NetConfig{
		Listen:               viper.GetString("net.listen"),
		RecordListen:         viper.GetString("net.recordListen"),
		Secret:               viper.GetString("net.secret"),
		ServerURL:            viper.GetString("net.serverUrl"),
		SendBuffer:           viper.GetInt("net.sendBuffer"),
		MaxReconnectAttempts: viper.GetInt("net.maxReconnectAttempts"),
		AckTimeout:           viper.GetDuration("net.ackTimeout"),
	}
}

func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
			OutputDir:    viper.GetString("storage.sqlite.outputDir"),
		},
		WebSocket: WebSocketConfig{
			URL:    viper.GetString("storage.websocket.url"),
			Secret: viper.GetString("storage.websocket.secret"),
		},
	}
}

func GetDBConfig() DBConfig {
	return DBConfig{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
		SSLMode:  viper.GetString("db.sslmode"),
	}
}

func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Protocol: viper.GetString("influx.protocol"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

func GetGeoConfig() GeoConfig {
	return GeoConfig{
		OriginLon: viper.GetFloat64("geo.originLon"),
		OriginLat: viper.GetFloat64("geo.originLat"),
	}
}

// GetSceneConfig reads the scene section. Malformed surface or region lists are
// ignored.
func GetSceneConfig() SceneConfig {
	sc := SceneConfig{
		DefaultSurface: viper.GetInt("scene.defaultSurface"),
		Crates:         viper.GetInt("scene.crates"),
	}
	_ = viper.UnmarshalKey("scene.surfaces", &sc.Surfaces)
	_ = viper.UnmarshalKey("scene.regions", &sc.Regions)
	return sc
}
