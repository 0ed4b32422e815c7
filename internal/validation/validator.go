// Package validation はリクエストDTOの入力検証を提供する。
// go-playground/validatorのインスタンスをプロセス内で1つだけ生成して共有する。
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/menucatalog/internal/model"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator は共有のvalidatorインスタンスを返す。
// エラーのフィールド名にはjsonタグの名前を使う。
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// Struct は構造体を検証し、違反があればINVALID_REQUESTのAPIErrorを返す。
func Struct(s any) *model.APIError {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return model.NewInvalidRequestError(err.Error())
	}

	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		messages = append(messages, describe(fe))
	}
	return model.NewInvalidRequestError(strings.Join(messages, "; "))
}

// describe は1件の検証エラーを読みやすいメッセージに変換する。
func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s は必須です", fe.Field())
	case "uuid":
		return fmt.Sprintf("%s はUUID形式で指定してください", fe.Field())
	case "max":
		return fmt.Sprintf("%s は%s以下で指定してください", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s は%s以上で指定してください", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s が不正です（%s）", fe.Field(), fe.Tag())
	}
}
