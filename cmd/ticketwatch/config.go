package main

import (
	"ticketwatch/internal/botgate"
	"ticketwatch/internal/browser"
	"ticketwatch/internal/capture"
	"ticketwatch/internal/extract"
	"ticketwatch/internal/monitor"
	"ticketwatch/internal/navigate"
	"ticketwatch/internal/notify"
	"ticketwatch/internal/pipeline"
	"ticketwatch/internal/snapcache"
	"ticketwatch/lib/configutil"
)

type BrowserConfig struct {
	ExecPath     string `json:"exec_path" env:"EXEC_PATH"`
	Headful      bool   `json:"headful" env:"HEADFUL"`
	ProfileDir   string `json:"profile_dir" env:"PROFILE_DIR"`
	WindowWidth  int    `json:"window_width"`
	WindowHeight int    `json:"window_height"`
	UserAgent    string `json:"user_agent" env:"USER_AGENT"`
}

type NavigationConfig struct {
	Attempts int                 `json:"attempts"`
	Timeout  configutil.Duration `json:"timeout" env:"TIMEOUT"`
	Backoff  configutil.Duration `json:"backoff"`
	Settle   configutil.Duration `json:"settle"`
}

type GateConfig struct {
	MaxAttempts    int                 `json:"max_attempts"`
	LoadingTimeout configutil.Duration `json:"loading_timeout"`
	HumanPause     configutil.Duration `json:"human_pause"`
	ActionPause    configutil.Duration `json:"action_pause"`
	ProbeTimeout   configutil.Duration `json:"probe_timeout"`
	ConsentTimeout configutil.Duration `json:"consent_timeout"`
	ClickTimeout   configutil.Duration `json:"click_timeout"`
	Markers        botgate.Markers     `json:"markers"`
}

type ExtractConfig struct {
	ProbeTimeout      configutil.Duration `json:"probe_timeout"`
	StadiumAttempts   int                 `json:"stadium_attempts"`
	StadiumRetryPause configutil.Duration `json:"stadium_retry_pause"`
	Selectors         extract.Selectors   `json:"selectors"`
}

type Config struct {
	Port     int    `json:"port" env:"PORT"`
	Database string `json:"database" env:"DATABASE"`
	// RedisURL switches the broadcaster to redis pub/sub, empty keeps it in
	// process.
	RedisURL       string `json:"redis_url" env:"REDIS_URL"`
	DiagnosticsDir string `json:"diagnostics_dir" env:"DIAGNOSTICS_DIR"`
	KeepPagesOpen  bool   `json:"keep_pages_open" env:"KEEP_PAGES_OPEN"`

	PollInterval   configutil.Duration `json:"poll_interval" env:"POLL_INTERVAL"`
	CycleTimeout   configutil.Duration `json:"cycle_timeout" env:"CYCLE_TIMEOUT"`
	CacheTTL       configutil.Duration `json:"cache_ttl" env:"CACHE_TTL"`
	CaptureTimeout configutil.Duration `json:"capture_timeout"`

	Browser    BrowserConfig     `json:"browser" envPrefix:"BROWSER_"`
	Navigation NavigationConfig  `json:"navigation" envPrefix:"NAVIGATION_"`
	Gate       GateConfig        `json:"gate"`
	Extract    ExtractConfig     `json:"extract"`
	Smtp       notify.SmtpConfig `json:"smtp"`
}

func defaultConfig() Config {
	nav := navigate.DefaultOptions()
	gate := botgate.DefaultOptions()
	ext := extract.DefaultOptions()

	return Config{
		Port:           8000,
		Database:       "ticketwatch.db",
		PollInterval:   configutil.Duration{Duration: monitor.DefaultPollInterval},
		CycleTimeout:   configutil.Duration{Duration: pipeline.DefaultOptions().CycleTimeout},
		CacheTTL:       configutil.Duration{Duration: snapcache.DefaultTTL},
		CaptureTimeout: configutil.Duration{Duration: capture.DefaultTimeout},
		Browser: BrowserConfig{
			ProfileDir:   ".dev/chrome-profile",
			WindowWidth:  1920,
			WindowHeight: 1080,
		},
		Navigation: NavigationConfig{
			Attempts: nav.Attempts,
			Timeout:  configutil.Duration{Duration: nav.Timeout},
			Backoff:  configutil.Duration{Duration: nav.Backoff},
			Settle:   configutil.Duration{Duration: nav.Settle},
		},
		Gate: GateConfig{
			MaxAttempts:    gate.MaxAttempts,
			LoadingTimeout: configutil.Duration{Duration: gate.LoadingTimeout},
			HumanPause:     configutil.Duration{Duration: gate.HumanPause},
			ActionPause:    configutil.Duration{Duration: gate.ActionPause},
			ProbeTimeout:   configutil.Duration{Duration: gate.ProbeTimeout},
			ConsentTimeout: configutil.Duration{Duration: gate.ConsentTimeout},
			ClickTimeout:   configutil.Duration{Duration: gate.ClickTimeout},
			Markers:        gate.Markers,
		},
		Extract: ExtractConfig{
			ProbeTimeout:      configutil.Duration{Duration: ext.ProbeTimeout},
			StadiumAttempts:   ext.StadiumAttempts,
			StadiumRetryPause: configutil.Duration{Duration: ext.StadiumRetryPause},
			Selectors:         ext.Selectors,
		},
	}
}

func (c Config) chromeOptions() browser.ChromeOptions {
	return browser.ChromeOptions{
		ExecPath:     c.Browser.ExecPath,
		Headful:      c.Browser.Headful,
		ProfileDir:   c.Browser.ProfileDir,
		WindowWidth:  c.Browser.WindowWidth,
		WindowHeight: c.Browser.WindowHeight,
		UserAgent:    c.Browser.UserAgent,
	}
}

func (c Config) navigateOptions() navigate.Options {
	return navigate.Options{
		Attempts: c.Navigation.Attempts,
		Timeout:  c.Navigation.Timeout.Duration,
		Backoff:  c.Navigation.Backoff.Duration,
		Settle:   c.Navigation.Settle.Duration,
	}
}

func (c Config) gateOptions() botgate.Options {
	return botgate.Options{
		MaxAttempts:    c.Gate.MaxAttempts,
		LoadingTimeout: c.Gate.LoadingTimeout.Duration,
		HumanPause:     c.Gate.HumanPause.Duration,
		ActionPause:    c.Gate.ActionPause.Duration,
		ProbeTimeout:   c.Gate.ProbeTimeout.Duration,
		ConsentTimeout: c.Gate.ConsentTimeout.Duration,
		ClickTimeout:   c.Gate.ClickTimeout.Duration,
		Markers:        c.Gate.Markers,
	}
}

func (c Config) extractOptions() extract.Options {
	return extract.Options{
		ProbeTimeout:      c.Extract.ProbeTimeout.Duration,
		StadiumAttempts:   c.Extract.StadiumAttempts,
		StadiumRetryPause: c.Extract.StadiumRetryPause.Duration,
		Selectors:         c.Extract.Selectors,
	}
}

func (c Config) pipelineOptions() pipeline.Options {
	return pipeline.Options{
		SessionName:   pipeline.DefaultSessionName,
		CycleTimeout:  c.CycleTimeout.Duration,
		KeepPagesOpen: c.KeepPagesOpen,
	}
}
