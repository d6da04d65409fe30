package server

// Execution order of the built-in middleware. Lower values run first
// (outermost). Custom middleware registered with WithUnary or WithStream
// can use any value; OrderUser places it right before the handler.
const (
	OrderStatus    = 50
	OrderRecovery  = 100
	OrderTracing   = 200
	OrderMetrics   = 300
	OrderRequestID = 400
	OrderLogging   = 450
	OrderIPFilter  = 500
	OrderAuth      = 600
	OrderRateLimit = 700
	OrderBreaker   = 800
	OrderTimeout   = 850
	OrderGroups    = 900
	OrderCache     = 950
	OrderUser      = 1000
)
