package metric

// MetricItem 一个模块的运行指标，以JSON字符串形式通过rpc的metrics接口返回
type MetricItem interface {
	JSONString() string
}

// ItemFunc adapts a snapshot function to MetricItem.
type ItemFunc func() string

func (f ItemFunc) JSONString() string {
	return f()
}
