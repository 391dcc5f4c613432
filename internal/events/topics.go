package events

// Topic constants for domain events emitted by checkout sessions.
const (
	TopicSaleSubmitted      = "sale.submitted"
	TopicSaleFailed         = "sale.failed"
	TopicReturnSubmitted    = "return.submitted"
	TopicReturnFailed       = "return.failed"
	TopicSpecialPriceSaved  = "special_price.saved"
	TopicSpecialPriceFailed = "special_price.failed"
)
