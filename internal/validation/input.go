package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Константы валидации
const (
	MaxCancelReasonLength = 500
	MinResolutionLength   = 3
	MaxResolutionLength   = 2000
	MaxEvidenceCount      = 20
	MaxEvidenceLinkLength = 2048
	MaxPaymentTokenLength = 255
)

// ValidateLength проверяет длину строки.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return fmt.Errorf("%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return fmt.Errorf("%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

// ValidateNonEmpty проверяет, что строка не пустая.
func ValidateNonEmpty(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s не может быть пустым", fieldName)
	}
	return nil
}

// ValidateCancelReason - причина отмены необязательна, но ограничена по длине.
func ValidateCancelReason(reason string) error {
	return ValidateLength("причина отмены", strings.TrimSpace(reason), 0, MaxCancelReasonLength)
}

// ValidateResolution проверяет текст решения по спору.
func ValidateResolution(resolution string) error {
	resolution = strings.TrimSpace(resolution)
	if err := ValidateNonEmpty("решение", resolution); err != nil {
		return err
	}
	return ValidateLength("решение", resolution, MinResolutionLength, MaxResolutionLength)
}

// ValidatePaymentToken проверяет токен платёжного средства. Сам токен выдаёт
// платёжный провайдер, здесь отсекается только явный мусор.
func ValidatePaymentToken(token string) error {
	if err := ValidateNonEmpty("платёжный токен", token); err != nil {
		return err
	}
	if err := ValidateLength("платёжный токен", token, 0, MaxPaymentTokenLength); err != nil {
		return err
	}
	if strings.IndexFunc(token, unicode.IsSpace) >= 0 {
		return fmt.Errorf("платёжный токен не может содержать пробелы")
	}
	return nil
}

// ValidateEvidence проверяет ссылки на доказательства по спору.
func ValidateEvidence(links []string) error {
	if len(links) > MaxEvidenceCount {
		return fmt.Errorf("можно приложить не более %d доказательств", MaxEvidenceCount)
	}

	seen := make(map[string]bool, len(links))
	for _, link := range links {
		link = strings.TrimSpace(link)
		if err := ValidateEvidenceLink(link); err != nil {
			return err
		}
		if seen[link] {
			return fmt.Errorf("ссылка %q указана дважды", link)
		}
		seen[link] = true
	}
	return nil
}

// ValidateEvidenceLink - одна ссылка на файл или страницу с доказательством.
func ValidateEvidenceLink(link string) error {
	if link == "" {
		return fmt.Errorf("ссылка на доказательство не может быть пустой")
	}
	if err := ValidateLength("ссылка на доказательство", link, 0, MaxEvidenceLinkLength); err != nil {
		return err
	}

	parsedURL, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("некорректный формат URL")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("ссылка должна начинаться с http:// или https://")
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("ссылка должна содержать доменное имя")
	}
	return nil
}
