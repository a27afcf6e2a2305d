package phone

import (
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"
)

const (
	// NoCaller отображается, когда в игре никого нет.
	NoCaller = "No caller"
	// UnknownCaller отображается, когда номер не удалось распарсить.
	UnknownCaller = "Unknown caller"
)

// Display возвращает номер в международном формате с замаскированными
// средними четырьмя цифрами. Пустой номер — "No caller", нераспознанный —
// "Unknown caller".
func Display(number string) string {
	if number == "" {
		return NoCaller
	}
	parsed, err := phonenumbers.Parse(number, "")
	if err != nil {
		return UnknownCaller
	}
	return Mask(phonenumbers.Format(parsed, phonenumbers.INTERNATIONAL))
}

// Mask заменяет средние четыре цифры отформатированного номера на 'X',
// сохраняя разделители. Хвосту достается floor((n-4)/2) цифр, голове —
// остаток; у коротких номеров маскируются все цифры.
func Mask(formatted string) string {
	numDigits := 0
	for _, r := range formatted {
		if unicode.IsDigit(r) {
			numDigits++
		}
	}

	numTail := (numDigits - 4) / 2
	if numTail < 0 {
		numTail = 0
	}
	numHead := numDigits - 4 - numTail
	if numHead < 0 {
		numHead = 0
	}

	var sb strings.Builder
	sb.Grow(len(formatted))
	digitIdx := 0
	for _, r := range formatted {
		if !unicode.IsDigit(r) {
			sb.WriteRune(r)
			continue
		}
		switch {
		case digitIdx < numHead:
			sb.WriteRune(r)
		case digitIdx < numDigits-numTail:
			sb.WriteRune('X')
		default:
			sb.WriteRune(r)
		}
		digitIdx++
	}
	return sb.String()
}

// E164 приводит номер к формату E.164 для отправки SMS.
func E164(number string) (string, error) {
	parsed, err := phonenumbers.Parse(number, "")
	if err != nil {
		return "", err
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}
