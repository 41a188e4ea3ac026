package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldDuration    = "duration_ms"
	FieldVersion     = "version"
	FieldDescription = "description"
	FieldDirection   = "direction"
	FieldDirty       = "dirty"
	FieldConnection  = "connection"
	FieldPath        = "path"
	FieldTransaction = "transaction_id"
	FieldRecurring   = "recurring_transaction_id"
	FieldCategory    = "category"
	FieldAmount      = "amount"
	FieldCurrency    = "currency"
	FieldCount       = "count"
	FieldKey         = "key"
	FieldPlugin      = "plugin"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentMigrate   = "migrate"
	ComponentStorage   = "storage"
	ComponentRecurring = "recurring"
	ComponentBackup    = "backup"
	ComponentExport    = "export"
	ComponentAMQP      = "amqp"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpMigrate  = "migrate"
	OpRollback = "rollback"
	OpIncur    = "incur"
	OpBackup   = "backup"
	OpImport   = "import"
	OpExport   = "export"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithMigration adds the fields identifying one migration step.
func (f LogFields) WithMigration(version uint, description, direction string) LogFields {
	f[FieldVersion] = version
	f[FieldDescription] = description
	f[FieldDirection] = direction
	return f
}

// WithTransaction adds transaction-related fields
func (f LogFields) WithTransaction(id int64, amount string, currency string, category string) LogFields {
	f[FieldTransaction] = id
	f[FieldAmount] = amount
	f[FieldCurrency] = currency
	f[FieldCategory] = category
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
