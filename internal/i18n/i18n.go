package i18n

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Language represents a supported language
type Language string

const (
	// Japanese language
	LanguageJapanese Language = "ja"
	// English language
	LanguageEnglish Language = "en"
)

// Translator manages translations for the application
type Translator struct {
	currentLanguage Language
	translations    map[Language]map[string]string
	mu              sync.RWMutex
}

// NewTranslator creates a new translator with default language
func NewTranslator(language Language) *Translator {
	return &Translator{
		currentLanguage: language,
		translations:    make(map[Language]map[string]string),
	}
}

// LoadTranslations loads translations from JSON data
func (t *Translator) LoadTranslations(language Language, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var translations map[string]string
	if err := json.Unmarshal(data, &translations); err != nil {
		return fmt.Errorf("failed to unmarshal translations: %w", err)
	}

	// Loaded entries override the built-in ones
	merged := make(map[string]string, len(translations))
	for k, v := range t.translations[language] {
		merged[k] = v
	}
	for k, v := range translations {
		merged[k] = v
	}
	t.translations[language] = merged
	return nil
}

// NewDefaultTranslator creates a translator preloaded with the built-in
// Japanese and English catalogs
func NewDefaultTranslator(language Language) *Translator {
	t := NewTranslator(language)
	t.translations[LanguageJapanese] = DefaultJapaneseTranslations()
	t.translations[LanguageEnglish] = DefaultEnglishTranslations()
	return t
}

// LoadTranslationsFromFile loads translations from a JSON file
func (t *Translator) LoadTranslationsFromFile(language Language, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read translation file: %w", err)
	}

	return t.LoadTranslations(language, data)
}

// SetLanguage sets the current language
func (t *Translator) SetLanguage(language Language) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentLanguage = language
}

// GetLanguage returns the current language
func (t *Translator) GetLanguage() Language {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.currentLanguage
}

// Translate translates a key in the current language
func (t *Translator) Translate(key string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if translations, ok := t.translations[t.currentLanguage]; ok {
		if text, ok := translations[key]; ok {
			return text
		}
	}

	// Fallback to English if translation not found
	if t.currentLanguage != LanguageEnglish {
		if translations, ok := t.translations[LanguageEnglish]; ok {
			if text, ok := translations[key]; ok {
				return text
			}
		}
	}

	// Return key itself if no translation found
	return key
}

// TranslateWithFormat translates a key and formats with parameters
func (t *Translator) TranslateWithFormat(key string, params map[string]string) string {
	text := t.Translate(key)

	// Simple string replacement for parameters
	for param, value := range params {
		placeholder := fmt.Sprintf("{%s}", param)
		text = strings.ReplaceAll(text, placeholder, value)
	}

	return text
}

// GetAllTranslations returns all translations for the current language
func (t *Translator) GetAllTranslations() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if translations, ok := t.translations[t.currentLanguage]; ok {
		// Return a copy to prevent external modifications
		result := make(map[string]string)
		for k, v := range translations {
			result[k] = v
		}
		return result
	}

	return make(map[string]string)
}

// HasTranslation checks if a translation key exists
func (t *Translator) HasTranslation(key string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if translations, ok := t.translations[t.currentLanguage]; ok {
		_, ok := translations[key]
		return ok
	}

	return false
}

// ValidateLanguage validates that a language is supported
func ValidateLanguage(language string) bool {
	return language == string(LanguageJapanese) || language == string(LanguageEnglish)
}

// DetectSystemLanguage derives the UI language from the POSIX locale
// variables, falling back to English
func DetectSystemLanguage() Language {
	for _, env := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(v), "ja") {
			return LanguageJapanese
		}
		return LanguageEnglish
	}
	return LanguageEnglish
}

// GetSupportedLanguages returns a list of supported languages
func GetSupportedLanguages() []Language {
	return []Language{LanguageJapanese, LanguageEnglish}
}

// DefaultEnglishTranslations returns default English translations
func DefaultEnglishTranslations() map[string]string {
	return map[string]string{
		// Menu items
		"menu.mic_on":   "Start Listening",
		"menu.mic_off":  "Stop Listening",
		"menu.devices":  "Input Device",
		"menu.settings": "Open Settings...",
		"menu.quit":     "Quit",

		// Status
		"status.off":      "Mic off",
		"status.unvoiced": "Listening",
		"status.voiced":   "Recording",
		"status.playing":  "Playing back",

		// Permissions
		"permission.microphone": "Microphone",
		"permission.granted":    "✓ Granted",
		"permission.denied":     "✗ Denied",
		"permission.request":    "Open Settings",

		// Errors
		"error.mic_permission_denied": "Microphone access denied. Allow EzEcho in System Settings > Privacy & Security > Microphone.",
		"error.device_unavailable":    "The input device is unavailable: {detail}",
		"error.capture_ended":         "Microphone input stopped: {detail}",
		"error.capture_start_failed":  "Could not start the microphone: {detail}",
		"error.playback_failed":       "Playback failed: {detail}",
		"error.encode_failed":         "Could not save the recording: {detail}",
		"error.record_failed":         "Could not start recording: {detail}",

		// Notifications
		"notification.title":       "EzEcho",
		"notification.input_ended": "Input file finished",
	}
}

// DefaultJapaneseTranslations returns default Japanese translations
func DefaultJapaneseTranslations() map[string]string {
	return map[string]string{
		// Menu items
		"menu.mic_on":   "聞き取りを開始",
		"menu.mic_off":  "聞き取りを停止",
		"menu.devices":  "入力デバイス",
		"menu.settings": "設定を開く...",
		"menu.quit":     "終了",

		// Status
		"status.off":      "マイクオフ",
		"status.unvoiced": "待機中",
		"status.voiced":   "録音中",
		"status.playing":  "再生中",

		// Permissions
		"permission.microphone": "マイク",
		"permission.granted":    "✓ 許可済み",
		"permission.denied":     "✗ 拒否",
		"permission.request":    "設定を開く",

		// Errors
		"error.mic_permission_denied": "マイクへのアクセスが拒否されました。システム設定 > プライバシーとセキュリティ > マイク で EzEcho を許可してください。",
		"error.device_unavailable":    "入力デバイスを利用できません: {detail}",
		"error.capture_ended":         "マイク入力が停止しました: {detail}",
		"error.capture_start_failed":  "マイクを開始できませんでした: {detail}",
		"error.playback_failed":       "再生に失敗しました: {detail}",
		"error.encode_failed":         "録音を保存できませんでした: {detail}",
		"error.record_failed":         "録音を開始できませんでした: {detail}",

		// Notifications
		"notification.title":       "EzEcho",
		"notification.input_ended": "入力ファイルの再生が終わりました",
	}
}
