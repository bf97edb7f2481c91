// Package validate содержит правила формата входных данных auth-сервиса:
// username, e-mail, пароль и имена. Ошибки возвращаются как validation.Errors
// (поле -> причина), ключи берутся из json-тегов.
package validate

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation"
)

const (
	passwordMinLen = 8
	// bcrypt учитывает только первые 72 байта.
	passwordMaxLen = 72
	nameMaxLen     = 50
	emailMaxLen    = 254
)

var (
	usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)
	emailRe    = regexp.MustCompile(`^[a-zA-Z0-9_+&*-]+(?:\.[a-zA-Z0-9_+&*-]+)*@(?:[a-zA-Z0-9-]+\.)+[a-zA-Z]{2,7}$`)
	passwordRe = regexp.MustCompile(`^[A-Za-z\d@$!%*?&]+$`)
)

var (
	errPasswordClasses = errors.New("must contain a lowercase letter, an uppercase letter and a digit")
)

// Registration — данные формы регистрации.
type Registration struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Validate проверяет все поля формы регистрации.
func (r Registration) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, usernameRules()...),
		validation.Field(&r.Email, emailRules()...),
		validation.Field(&r.Password, passwordRules()...),
		validation.Field(&r.FirstName, validation.Length(0, nameMaxLen)),
		validation.Field(&r.LastName, validation.Length(0, nameMaxLen)),
	)
}

// Credentials — данные формы входа. Login — username или e-mail.
type Credentials struct {
	Login    string `json:"usernameOrEmail"`
	Password string `json:"password"`
}

// Validate проверяет только заполненность полей.
func (c Credentials) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Login, validation.Required),
		validation.Field(&c.Password, validation.Required),
	)
}

// Required проверяет, что значение поля name не пустое.
func Required(name, value string) error {
	return field(name, value, validation.Required)
}

// Username проверяет формат имени пользователя.
func Username(username string) error {
	return field("username", username, usernameRules()...)
}

// Email проверяет формат e-mail.
func Email(email string) error {
	return field("email", email, emailRules()...)
}

// Password проверяет пароль по политике сложности. name — ключ поля в ошибке.
func Password(name, password string) error {
	return field(name, password, passwordRules()...)
}

func usernameRules() []validation.Rule {
	return []validation.Rule{
		validation.Required,
		validation.Match(usernameRe).Error("must be 3-20 characters: letters, digits or underscore"),
	}
}

func emailRules() []validation.Rule {
	return []validation.Rule{
		validation.Required,
		validation.Length(0, emailMaxLen),
		validation.Match(emailRe).Error("must be a valid email address"),
	}
}

func passwordRules() []validation.Rule {
	return []validation.Rule{
		validation.Required,
		validation.Length(passwordMinLen, passwordMaxLen),
		validation.Match(passwordRe).Error("contains unsupported characters"),
		validation.By(passwordClasses),
	}
}

// passwordClasses требует строчную, заглавную букву и цифру.
// В regexp Go нет lookahead, поэтому проверка сделана вручную.
func passwordClasses(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}

	var lower, upper, digit bool
	for _, r := range s {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}

	if !lower || !upper || !digit {
		return errPasswordClasses
	}

	return nil
}

func field(name, value string, rules ...validation.Rule) error {
	if err := validation.Validate(value, rules...); err != nil {
		return validation.Errors{name: err}
	}

	return nil
}

// Fields превращает ошибку валидации в словарь поле -> причина.
// Для ошибок другого вида возвращает nil.
func Fields(err error) map[string]string {
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return nil
	}

	out := make(map[string]string, len(verrs))
	for k, v := range verrs {
		if v == nil {
			continue
		}
		out[k] = strings.TrimSpace(v.Error())
	}

	return out
}
