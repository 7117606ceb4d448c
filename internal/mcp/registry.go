package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// HandlerFunc обработчик с сырыми аргументами
type HandlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Tool инструмент реестра
type Tool struct {
	Name        string
	Description string
	InputSchema *Schema
	Handler     HandlerFunc
}

// ValidationError ошибка аргументов инструмента
type ValidationError struct {
	Tool string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("неверные аргументы %s: %v", e.Tool, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func argValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// В сообщениях используем имена полей из JSON
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, ok := jsonName(f)
			if !ok {
				return ""
			}
			return name
		})
	})
	return validate
}

// NewTool создает инструмент с типизированными аргументами. Схема строится
// по тегам структуры T, аргументы декодируются и проверяются до вызова handler.
func NewTool[T any](name, description string, handler func(ctx context.Context, args T) (any, error)) Tool {
	schema, err := SchemaFor(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		panic(fmt.Sprintf("инструмент %s: %v", name, err))
	}
	return Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			args, err := Decode[T](name, raw)
			if err != nil {
				return nil, err
			}
			return handler(ctx, args)
		},
	}
}

// Decode применяет значения по умолчанию, разбирает аргументы и проверяет их
func Decode[T any](tool string, raw json.RawMessage) (T, error) {
	var args T
	if err := applyDefaults(reflect.ValueOf(&args)); err != nil {
		return args, &ValidationError{Tool: tool, Err: err}
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && string(raw) != "null" {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&args); err != nil {
			return args, &ValidationError{Tool: tool, Err: err}
		}
	}

	if err := argValidator().Struct(args); err != nil {
		return args, &ValidationError{Tool: tool, Err: describeValidation(err)}
	}
	return args, nil
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("поле %s обязательно", field))
		case "oneof":
			parts = append(parts, fmt.Sprintf("поле %s должно быть одним из [%s]", field, fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("поле %s не прошло проверку %s=%s", field, fe.Tag(), fe.Param()))
		}
	}
	return errors.New(strings.Join(parts, "; "))
}

// Registry реестр инструментов. Имена уникальны, порядок регистрации сохраняется.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry создает пустой реестр
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register добавляет инструменты; повторное имя является ошибкой
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		if t.Name == "" || t.Handler == nil {
			return fmt.Errorf("инструмент без имени или обработчика")
		}
		if _, exists := r.tools[t.Name]; exists {
			return fmt.Errorf("инструмент %s уже зарегистрирован", t.Name)
		}
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return nil
}

// MustRegister как Register, но паникует при ошибке
func (r *Registry) MustRegister(tools ...Tool) {
	if err := r.Register(tools...); err != nil {
		panic(err)
	}
}

// Get возвращает инструмент по имени
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Len число инструментов
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// List возвращает инструменты в порядке регистрации
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Call вызывает инструмент. Ошибки и паники обработчика превращаются
// в результат {error, tool}; сама функция не завершается ошибкой.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (res ToolResult) {
	t, ok := r.Get(name)
	if !ok {
		return textResult(Failure{Error: "Unknown tool: " + name, Tool: name}, true)
	}

	defer func() {
		if p := recover(); p != nil {
			res = textResult(Failure{Error: fmt.Sprintf("внутренняя ошибка: %v", p), Tool: name}, true)
		}
	}()

	payload, err := t.Handler(ctx, args)
	if err != nil {
		return textResult(Failure{Error: err.Error(), Tool: name}, true)
	}
	return textResult(payload, false)
}
