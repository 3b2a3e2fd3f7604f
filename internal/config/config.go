package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LogConfig controls log level and file rotation.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`    // megabytes
	MaxBackups int    `yaml:"max_backups"` // rotated files to keep
	MaxAge     int    `yaml:"max_age"`     // days
	Compress   bool   `yaml:"compress"`
}

// AudioConfig tunes the jitter buffer and the safety deadlines. The
// deadline values are deployment-network dependent, so they are
// configurable rather than baked in.
type AudioConfig struct {
	InitialBufferPackets int `yaml:"initial_buffer_packets"` // pacing starts at this queue depth
	MaxBufferPackets     int `yaml:"max_buffer_packets"`
	BurstPackets         int `yaml:"burst_packets"` // sent immediately to seed the far-end jitter buffer

	ResponseCompleteTimeoutMs int `yaml:"response_complete_timeout_ms"`
	NoAudioGraceMs            int `yaml:"no_audio_grace_ms"`
	RTPInactivityMs           int `yaml:"rtp_inactivity_ms"`
}

type Config struct {
	Server struct {
		HTTPPort int    `yaml:"http_port"`
		RTPHost  string `yaml:"rtp_host"`
		RTPPort  int    `yaml:"rtp_port"` // 0 = OS assigned
		PublicIP string `yaml:"public_ip"`
	} `yaml:"server"`
	Audio AudioConfig `yaml:"audio"`
	AI    struct {
		URL        string `yaml:"url"`
		APIKey     string `yaml:"api_key"`
		Model      string `yaml:"model"`
		Voice      string `yaml:"voice"`
		SampleRate int    `yaml:"sample_rate"`
	} `yaml:"ai"`
	Recording struct {
		Enabled bool   `yaml:"enabled"`
		Dir     string `yaml:"dir"`
	} `yaml:"recording"`
	Log LogConfig `yaml:"log"`
}

// DefaultAudioConfig returns the tuning that shipped with the system.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		InitialBufferPackets:      30, // 300 ms at 10 ms/packet
		MaxBufferPackets:          50,
		BurstPackets:              5,
		ResponseCompleteTimeoutMs: 10000,
		NoAudioGraceMs:            500,
		RTPInactivityMs:           2000,
	}
}

func LoadConfig(path string) (*Config, error) {
	config := &Config{}
	config.Audio = DefaultAudioConfig()
	config.AI.SampleRate = 24000

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	err = yaml.Unmarshal(file, config)
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	return config, nil
}
