package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Backend     BackendConfig     `yaml:"backend"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Interpreter InterpreterConfig `yaml:"interpreter"`
	Identity    IdentityConfig    `yaml:"identity"`
	Interaction InteractionConfig `yaml:"interaction"`
	Camera      CameraConfig      `yaml:"camera"`
	Voice       VoiceConfig       `yaml:"voice"`
	Surface     SurfaceConfig     `yaml:"surface"`
	Pushover    PushoverConfig    `yaml:"pushover"`
	Log         LogConfig         `yaml:"log"`
}

type BackendConfig struct {
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type MQTTConfig struct {
	Broker          string `yaml:"broker"`
	ClientID        string `yaml:"client_id"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	PerDeviceTopics bool   `yaml:"per_device_topics"`
	PublishLocal    bool   `yaml:"publish_local"`
	Disabled        bool   `yaml:"disabled"`
}

type InterpreterConfig struct {
	Provider        string `yaml:"provider"`
	GeminiAPIKey    string `yaml:"gemini_api_key"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	Model           string `yaml:"model"`
}

type IdentityConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	CloseDelay time.Duration `yaml:"close_delay"`
}

type InteractionConfig struct {
	DwellRate      float64 `yaml:"dwell_rate"`
	Damping        float64 `yaml:"damping"`
	Acceleration   float64 `yaml:"acceleration"`
	EyeHeight      float64 `yaml:"eye_height"`
	RoomHalfExtent float64 `yaml:"room_half_extent"`
	AuthAtStart    bool    `yaml:"auth_at_start"`
}

type CameraConfig struct {
	Source  string        `yaml:"source"`
	Dir     string        `yaml:"dir"`
	Width   int           `yaml:"width"`
	Height  int           `yaml:"height"`
	Quality int           `yaml:"quality"`
	MaxAge  time.Duration `yaml:"max_age"`

	// GesturePause is the wait between the face and gesture captures of a
	// preset recall.
	GesturePause time.Duration `yaml:"gesture_pause"`
}

type VoiceConfig struct {
	Source       string `yaml:"source"`
	Dir          string `yaml:"dir"`
	OpenAIAPIKey string `yaml:"openai_api_key"`
	Language     string `yaml:"language"`
	QueueSize    int    `yaml:"queue_size"`
}

type SurfaceConfig struct {
	Addr      string  `yaml:"addr"`
	AuthToken string  `yaml:"auth_token"`
	Rate      float64 `yaml:"rate"`
	Burst     int     `yaml:"burst"`
}

type PushoverConfig struct {
	Token   string `yaml:"token"`
	UserKey string `yaml:"user_key"`
	Enabled bool   `yaml:"enabled"`
}

type LogConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	ActivitySize int    `yaml:"activity_size"`
}

// Load reads the YAML file at path. Variables from a .env file next to the
// working directory are loaded first so ${VAR} references can use them; a
// missing .env is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse expands environment references in data and decodes it.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	// Booleans that default to true are set before decoding.
	cfg := Config{Interaction: InteractionConfig{AuthAtStart: true}}
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Backend.URL == "" {
		c.Backend.URL = "http://localhost:1880/api/v1"
	}
	if c.Backend.RequestTimeout == 0 {
		c.Backend.RequestTimeout = 10 * time.Second
	}
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "ws://localhost:9001"
	}
	if c.Interpreter.Provider == "" {
		c.Interpreter.Provider = "gemini"
	}
	if c.Identity.MaxRetries == 0 {
		c.Identity.MaxRetries = 3
	}
	if c.Identity.RetryDelay == 0 {
		c.Identity.RetryDelay = 2 * time.Second
	}
	if c.Identity.CloseDelay == 0 {
		c.Identity.CloseDelay = 800 * time.Millisecond
	}
	if c.Interaction.DwellRate == 0 {
		c.Interaction.DwellRate = 50
	}
	if c.Interaction.Damping == 0 {
		c.Interaction.Damping = 10
	}
	if c.Interaction.Acceleration == 0 {
		c.Interaction.Acceleration = 40
	}
	if c.Interaction.EyeHeight == 0 {
		c.Interaction.EyeHeight = 1.6
	}
	if c.Interaction.RoomHalfExtent == 0 {
		c.Interaction.RoomHalfExtent = 4.8
	}
	if c.Camera.Source == "" {
		c.Camera.Source = "push"
	}
	if c.Camera.Dir == "" {
		c.Camera.Dir = "./frames"
	}
	if c.Camera.Width == 0 {
		c.Camera.Width = 640
	}
	if c.Camera.Height == 0 {
		c.Camera.Height = 480
	}
	if c.Camera.Quality == 0 {
		c.Camera.Quality = 80
	}
	if c.Camera.MaxAge == 0 {
		c.Camera.MaxAge = 2 * time.Second
	}
	if c.Camera.GesturePause == 0 {
		c.Camera.GesturePause = 1500 * time.Millisecond
	}
	if c.Voice.Source == "" {
		c.Voice.Source = "none"
	}
	if c.Voice.Dir == "" {
		c.Voice.Dir = "./audio"
	}
	if c.Voice.QueueSize == 0 {
		c.Voice.QueueSize = 10
	}
	if c.Surface.Addr == "" {
		c.Surface.Addr = ":8080"
	}
	if c.Surface.Rate == 0 {
		c.Surface.Rate = 30
	}
	if c.Surface.Burst == 0 {
		c.Surface.Burst = 60
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.ActivitySize == 0 {
		c.Log.ActivitySize = 5
	}
}

func (c *Config) validate() error {
	switch c.Interpreter.Provider {
	case "gemini", "claude", "none":
	default:
		return fmt.Errorf("interpreter.provider %q: want gemini, claude or none", c.Interpreter.Provider)
	}
	switch c.Camera.Source {
	case "push", "file", "none":
	default:
		return fmt.Errorf("camera.source %q: want push, file or none", c.Camera.Source)
	}
	switch c.Voice.Source {
	case "none", "file", "http", "microphone":
	default:
		return fmt.Errorf("voice.source %q: want none, file, http or microphone", c.Voice.Source)
	}
	if c.Identity.MaxRetries < 0 {
		return fmt.Errorf("identity.max_retries must not be negative")
	}
	if c.Interaction.DwellRate < 0 {
		return fmt.Errorf("interaction.dwell_rate must not be negative")
	}
	return nil
}
