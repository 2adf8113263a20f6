package config

// Profile is a named bundle of settings. A profile only fills keys that
// the user did not set explicitly.
type Profile struct {
	Environment   string
	StrictMode    *bool
	FailOnWarning *bool
	Parallel      *bool
	QuickMode     *bool
	SkipTests     []string
}

func boolPtr(b bool) *bool { return &b }

// Profiles are the built-in profiles.
var Profiles = map[string]Profile{
	"development": {
		Environment: "development",
		SkipTests:   []string{"performance/file-size-budget"},
	},
	"production": {
		Environment:   "production",
		StrictMode:    boolPtr(true),
		FailOnWarning: boolPtr(true),
	},
	"ci": {
		FailOnWarning: boolPtr(true),
		Parallel:      boolPtr(true),
	},
	"quick": {
		QuickMode: boolPtr(true),
	},
}

// applyProfile copies profile values into cfg for every key isSet reports
// as unset. Skip lists are merged.
func applyProfile(cfg *Config, p Profile, isSet func(key string) bool) {
	if p.Environment != "" && !isSet("environment") {
		cfg.Environment = p.Environment
	}
	if p.StrictMode != nil && !isSet("strictMode") {
		cfg.StrictMode = *p.StrictMode
	}
	if p.FailOnWarning != nil && !isSet("failOnWarning") {
		cfg.FailOnWarning = *p.FailOnWarning
	}
	if p.Parallel != nil && !isSet("parallel") {
		cfg.Parallel = *p.Parallel
	}
	if p.QuickMode != nil && !isSet("quickMode") {
		cfg.QuickMode = *p.QuickMode
	}
	for _, s := range p.SkipTests {
		if !contains(cfg.SkipTests, s) {
			cfg.SkipTests = append(cfg.SkipTests, s)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
