package message

// ExecutionContext is derived once per message and never mutated.
type ExecutionContext struct {
	requestID    string
	message      InboundMessage
	registration RegistrationStatus
	tier         PermissionTier
}

func NewExecutionContext(requestID string, msg InboundMessage, status RegistrationStatus, tier PermissionTier) *ExecutionContext {
	return &ExecutionContext{
		requestID:    requestID,
		message:      msg,
		registration: status,
		tier:         tier,
	}
}

func (c *ExecutionContext) RequestID() string                      { return c.requestID }
func (c *ExecutionContext) Message() InboundMessage                { return c.message }
func (c *ExecutionContext) TenantID() string                       { return c.message.TenantID }
func (c *ExecutionContext) SenderID() SenderID                     { return c.message.SenderID }
func (c *ExecutionContext) Channel() ChannelType                   { return c.message.Channel }
func (c *ExecutionContext) Text() string                           { return c.message.Text }
func (c *ExecutionContext) RegistrationStatus() RegistrationStatus { return c.registration }
func (c *ExecutionContext) PermissionTier() PermissionTier         { return c.tier }

// WithIdentity returns a copy carrying a different registration status and tier.
func (c *ExecutionContext) WithIdentity(status RegistrationStatus, tier PermissionTier) *ExecutionContext {
	next := *c
	next.registration = status
	next.tier = tier
	return &next
}
