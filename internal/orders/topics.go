package orders

const (
	TopicOrderPaid           = "order.paid"
	TopicOrderFailed         = "order.failed"
	TopicOrderCompleted      = "order.completed"
	TopicOrderRefunded       = "order.refunded"
	TopicProvisioningPending = "order.provisioning.pending"
)
