package types

//-----------------------------------------------------------------------------
// CollectorStep enum type

// CollectorStep enumerates the states of a vote collector.
type CollectorStep uint8

const (
	CollectorAccumulating = CollectorStep(0x01) // 收集投票中
	CollectorCertified    = CollectorStep(0x02) // 已经生成证书，终止状态
)

func (s CollectorStep) String() string {
	switch s {
	case CollectorAccumulating:
		return "Accumulating"
	case CollectorCertified:
		return "Certified"
	default:
		return "Unknown"
	}
}
