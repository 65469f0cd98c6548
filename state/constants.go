package state

import "time"

var (
	// flow priorities
	BlockPriority    = 62000
	PuntPriority     = 63000
	LearningPriority = 64000
	PathPriority     = 64000
	GatewayPriority  = 65000

	// packet request priorities, highest wins on the device
	RequestPriorityHigh  = PacketPriority(50000)
	RequestPriorityHigh1 = PacketPriority(50001)
	RequestPriorityHigh3 = PacketPriority(50003)

	LearningTimeout = time.Second * 60

	GcDelay = time.Millisecond * 1000

	// dispatches slower than this are logged
	DispatchWarnThreshold = time.Millisecond * 4

	DispatchQueueSize = 128
)

var (
	DBG_log_tables  = false
	DBG_log_packets = false
)
