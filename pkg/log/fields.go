package log

// Field is a single structured logging attribute.
type Field struct {
	Key   string
	Value interface{}
}

// F builds a Field.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Str builds a string-valued Field.
func Str(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Component tags log lines with the emitting component.
func Component(name string) Field {
	return Field{Key: "component", Value: name}
}

// Err builds the conventional error field.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}
