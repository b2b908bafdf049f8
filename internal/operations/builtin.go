package operations

// Config configures the builtin operations that need it.
type Config struct {
	HTTP HTTPConfig
}

// Builtins returns every builtin operation.
func Builtins(cfg Config) ([]Operation, error) {
	all := make([]Operation, 0, 24)
	all = append(all, MathOperations()...)
	all = append(all, TextOperations()...)
	all = append(all, CryptoOperations()...)
	all = append(all, EnvOperations()...)
	all = append(all, UtilOperations()...)
	all = append(all, HTTPOperations(cfg.HTTP)...)

	exprOps, err := ExpressionOperations()
	if err != nil {
		return nil, err
	}
	all = append(all, exprOps...)
	return all, nil
}

// RegisterBuiltins registers all builtin operations in reg.
func RegisterBuiltins(reg OperationRegistry, cfg Config) error {
	all, err := Builtins(cfg)
	if err != nil {
		return err
	}
	for _, op := range all {
		if err := reg.Register(op); err != nil {
			return err
		}
	}
	return nil
}

// NewBuiltinRegistry returns a Registry holding every builtin operation.
func NewBuiltinRegistry(cfg Config) (*Registry, error) {
	reg := NewRegistry()
	if err := RegisterBuiltins(reg, cfg); err != nil {
		return nil, err
	}
	return reg, nil
}
