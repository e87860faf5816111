package thumbs

// Settings are the two user preferences that shape rewriting.
type Settings struct {
	// DomainOverride replaces the image host when non-empty.
	DomainOverride string `json:"domainOverride"`
	// AllowCustomCrop keeps uploader-chosen crops instead of uncropping them.
	AllowCustomCrop bool `json:"allowCustom"`
}

// SettingsSource hands out the live settings record. Rewriters call Current on
// every attempt and never keep a copy.
type SettingsSource interface {
	Current() Settings
}

// StaticSettings is a SettingsSource that never changes.
type StaticSettings Settings

func (s StaticSettings) Current() Settings { return Settings(s) }
