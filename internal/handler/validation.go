package handler

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/portfolio/internal/service"
)

var validatorsOnce sync.Once

// registerValidators 在 gin 的校验引擎上注册自定义规则。
func registerValidators() {
	validatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("rangetype", func(fl validator.FieldLevel) bool {
			_, err := service.ParseRangeType(fl.Field().String())
			return err == nil
		})
	})
}
