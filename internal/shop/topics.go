package shop

import "strconv"

const (
	TopicOrderPaid = "order.paid"
)

func OrderKey(orderID int64) string { return strconv.FormatInt(orderID, 10) }

// Partition key = order id, so every event of one order keeps its order.
func PartitionKey(orderID int64) []byte { return []byte(OrderKey(orderID)) }
