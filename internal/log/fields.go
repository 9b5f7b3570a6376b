package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldMonth      = "month"
	FieldTxID       = "tx_id"
	FieldTxDate     = "tx_date"
	FieldAmount     = "amount"
	FieldCategory   = "category"
	FieldPayer      = "payer"
	FieldMerchant   = "merchant"
	FieldCount      = "count"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentLedger    = "ledger"
	ComponentStore     = "store"
	ComponentDevice    = "device"
	ComponentReport    = "report"
	ComponentAI        = "ai"
	ComponentMigration = "migration"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpRead     = "read"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpList     = "list"
	OpGenerate = "generate"
	OpArchive  = "archive"
	OpMigrate  = "migrate"
	OpScan     = "scan"
	OpValidate = "validate"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)
