// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"usb-serial-service/internal/model"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	App       AppConfig       `mapstructure:"app"`
	USB       USBConfig       `mapstructure:"usb"`
	Serial    SerialConfig    `mapstructure:"serial"`
	Read      ReadConfig      `mapstructure:"read"`
	Events    EventsConfig    `mapstructure:"events"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            string        `mapstructure:"port" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TLS             TLSConfig     `mapstructure:"tls"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"required"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Version     string `mapstructure:"version" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required"`
	Debug       bool   `mapstructure:"debug"`
}

// USBConfig represents the OS USB layer configuration
type USBConfig struct {
	PollInterval          time.Duration `mapstructure:"poll_interval"`
	AutoGrantPermission   bool          `mapstructure:"auto_grant_permission"`
	EnableDescriptorProbe bool          `mapstructure:"enable_descriptor_probe"`
	DebugLevel            int           `mapstructure:"debug_level"`
	NotificationBuffer    int           `mapstructure:"notification_buffer"`
}

// SerialConfig represents the initial connection settings
type SerialConfig struct {
	StartOnBoot bool                 `mapstructure:"start_on_boot"`
	Defaults    SerialDefaultsConfig `mapstructure:"defaults"`
}

// SerialDefaultsConfig holds the connection setting defaults
type SerialDefaultsConfig struct {
	BaudRate            int    `mapstructure:"baud_rate"`
	DataBits            int    `mapstructure:"data_bits"`
	StopBits            int    `mapstructure:"stop_bits"`
	Parity              string `mapstructure:"parity"`
	FlowControl         string `mapstructure:"flow_control"`
	ReadBufferSize      int    `mapstructure:"read_buffer_size"`
	ReturnedDataType    string `mapstructure:"returned_data_type"`
	Driver              string `mapstructure:"driver"`
	Interface           int    `mapstructure:"interface"`
	AutoConnect         bool   `mapstructure:"auto_connect"`
	AutoConnectBaudRate int    `mapstructure:"auto_connect_baud_rate"`
}

// ReadConfig represents read pipeline configuration
type ReadConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

// EventsConfig represents event bus configuration
type EventsConfig struct {
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
}

// WebSocketConfig represents the event stream configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
}

// Load loads configuration from file and environment variables. An empty
// path searches for config.yaml in . and ./config; a missing file there is
// not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variable support
	v.SetEnvPrefix("USB_SERIAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8085")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.tls.enabled", false)

	// Security defaults
	v.SetDefault("security.allowed_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// App defaults
	v.SetDefault("app.name", "usb-serial-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// USB defaults
	v.SetDefault("usb.poll_interval", "1s")
	v.SetDefault("usb.auto_grant_permission", false)
	v.SetDefault("usb.enable_descriptor_probe", true)
	v.SetDefault("usb.debug_level", 0)
	v.SetDefault("usb.notification_buffer", 64)

	// Serial defaults
	v.SetDefault("serial.start_on_boot", false)
	v.SetDefault("serial.defaults.baud_rate", model.DefaultBaudRate)
	v.SetDefault("serial.defaults.data_bits", 8)
	v.SetDefault("serial.defaults.stop_bits", 1)
	v.SetDefault("serial.defaults.parity", "none")
	v.SetDefault("serial.defaults.flow_control", "off")
	v.SetDefault("serial.defaults.read_buffer_size", model.DefaultReadBufferSize)
	v.SetDefault("serial.defaults.returned_data_type", "int_array")
	v.SetDefault("serial.defaults.driver", "auto")
	v.SetDefault("serial.defaults.interface", model.InterfaceUnspecified)
	v.SetDefault("serial.defaults.auto_connect", false)
	v.SetDefault("serial.defaults.auto_connect_baud_rate", model.DefaultBaudRate)

	// Read pipeline defaults
	v.SetDefault("read.queue_size", 0)

	// Event defaults
	v.SetDefault("events.subscriber_buffer", 256)

	// WebSocket defaults
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.ping_interval", "54s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 512)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	validEnvs := []string{"development", "staging", "production", "test"}
	if !contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	if config.USB.PollInterval <= 0 {
		return fmt.Errorf("usb.poll_interval must be positive")
	}
	if config.Read.QueueSize < 0 {
		return fmt.Errorf("read.queue_size must not be negative")
	}
	if config.WebSocket.PingInterval <= 0 || config.WebSocket.PingInterval >= config.WebSocket.PongWait {
		return fmt.Errorf("websocket.ping_interval must be shorter than websocket.pong_wait")
	}

	if _, err := config.Serial.Defaults.ConnectionConfig(); err != nil {
		return fmt.Errorf("serial.defaults: %w", err)
	}
	if config.Serial.Defaults.BaudRate < 1 {
		return fmt.Errorf("serial.defaults.baud_rate must be positive")
	}

	return nil
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

var parityNames = map[string]model.Parity{
	"none":  model.ParityNone,
	"odd":   model.ParityOdd,
	"even":  model.ParityEven,
	"mark":  model.ParityMark,
	"space": model.ParitySpace,
}

var flowControlNames = map[string]model.FlowControl{
	"off":      model.FlowControlOff,
	"rts_cts":  model.FlowControlRTSCTS,
	"dsr_dtr":  model.FlowControlDSRDTR,
	"xon_xoff": model.FlowControlXonXoff,
}

var returnedDataTypeNames = map[string]model.ReturnedDataType{
	"int_array":  model.ReturnedDataTypeIntArray,
	"hex_string": model.ReturnedDataTypeHexString,
}

// ConnectionConfig converts the configured defaults to the model type
func (d SerialDefaultsConfig) ConnectionConfig() (model.ConnectionConfig, error) {
	parity, ok := parityNames[strings.ToLower(d.Parity)]
	if !ok {
		return model.ConnectionConfig{}, fmt.Errorf("unknown parity %q", d.Parity)
	}
	flow, ok := flowControlNames[strings.ToLower(d.FlowControl)]
	if !ok {
		return model.ConnectionConfig{}, fmt.Errorf("unknown flow control %q", d.FlowControl)
	}
	returned, ok := returnedDataTypeNames[strings.ToLower(d.ReturnedDataType)]
	if !ok {
		return model.ConnectionConfig{}, fmt.Errorf("unknown returned data type %q", d.ReturnedDataType)
	}
	driver, ok := model.ParseDriverName(d.Driver)
	if !ok {
		return model.ConnectionConfig{}, fmt.Errorf("unknown driver %q", d.Driver)
	}

	cfg := model.ConnectionConfig{
		DataBits:            model.DataBits(d.DataBits),
		StopBits:            model.StopBits(d.StopBits),
		Parity:              parity,
		FlowControl:         flow,
		ReadBufferSize:      d.ReadBufferSize,
		Driver:              driver,
		InterfaceIndex:      d.Interface,
		ReturnedDataType:    returned,
		AutoConnect:         d.AutoConnect,
		AutoConnectBaudRate: d.AutoConnectBaudRate,
	}
	if err := cfg.Validate(); err != nil {
		return model.ConnectionConfig{}, err
	}
	return cfg, nil
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.IsDevelopment()
}
