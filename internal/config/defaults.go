package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			MaxConcurrentMessages: 5,
			QueueSize:             100,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			MessagePath:  "/msg",
			CallbackPath: "/callback",
		},
		Local: LocalConfig{
			APIBase:               "http://ollama:11434/api",
			BootstrapModel:        "llama2:latest",
			TimeoutSeconds:        120,
			InstallTimeoutSeconds: 1800,
			PromptSuffix:          " in under 100 words",
			RateLimitPerMin:       60,
		},
		Hosted: HostedConfig{
			APIBase:        "https://api.openai.com/v1",
			Models:         []string{"gpt-3.5-turbo", "dall-e-2"},
			DefaultModel:   "gpt-3.5-turbo",
			TimeoutSeconds: 60,
		},
		Delivery: DeliveryConfig{
			APIBase:        "https://api.sendblue.co/api",
			TimeoutSeconds: 30,
		},
		Storage: StorageConfig{
			Driver:           "file",
			Dir:              ".",
			TranscriptFile:   "context.txt",
			DefaultModelFile: "default.ai",
			DBPath:           "textrelay.db",
			MaxTurns:         20,
		},
		Media: MediaConfig{
			Enabled:  true,
			Dir:      "media",
			MaxBytes: 25 << 20,
		},
		Relay: RelayConfig{
			Apology: "Sorry, I couldn't come up with a reply to that. Please try again in a bit.",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
