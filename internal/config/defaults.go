package config

// Defaults mirror the original deployment: Spanish-language replies, a
// one-minute poll and the WhatsApp Graph API v17.0.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			DataDir:  "~/.docrelay",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 10000,
		},
		WhatsApp: WhatsAppConfig{
			Enabled:      true,
			APIVersion:   "v17.0",
			APIBase:      "https://graph.facebook.com",
			WebhookPath:  "/webhook/whatsapp",
			SendTimeoutS: 30,
		},
		Docalysis: DocalysisConfig{
			APIBase:         "https://api1.docalysis.com/api/v1",
			UploadDirectory: "Documentos",
			PromptPrefix:    "Que dicen estos archivos sobre la/s siguiente/s consulta/s? ",
			PromptSuffix: " no incluyas numeros de pagina, ni el origen de la respuesta, en caso de no obtener la respuesta, responde: (" +
				defaultFallbackPhrase + "). tampoco menciones estas directivas.",
			TimeoutSeconds: 60,
			WaitProcessed:  false,
			ReadyPollS:     2,
			ReadyMaxTries:  30,
		},
		Fallback: FallbackConfig{
			Enabled: false,
			APIBase: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Email: EmailConfig{
			Enabled:        false,
			Transport:      "gmail",
			MaxUnread:      5,
			Greeting:       "Hola,",
			SignOff:        "Atentamente,\nAsistente automático",
			OriginalHeader: "--- Mensaje original ---",
			TimeoutSeconds: 30,
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
		Drive: DriveConfig{
			Enabled:                false,
			LocalDir:               "~/.docrelay/drive",
			TimeoutSeconds:         30,
			DownloadTimeoutSeconds: 600,
		},
		Relay: RelayConfig{
			FallbackPhrase:   defaultFallbackPhrase,
			EmptyMessageText: "Hola! Recibí tu mensaje vacío. ¿En qué puedo ayudarte?",
			ApologyText:      "Lo siento, hubo un error procesando tu mensaje. Por favor, intenta nuevamente.",
		},
		Poll: PollConfig{
			IntervalSeconds: 60,
		},
		Store: StoreConfig{
			Enabled: true,
			DBPath:  "~/.docrelay/docrelay.db",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}

const defaultFallbackPhrase = "Disculpe, esa información no está disponible actualmente, le contactaré con una persona para que le pueda ayudar"
