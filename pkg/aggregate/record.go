package aggregate

import "time"

const (
	// HeartbeatName 心跳记录的保留指标名
	HeartbeatName = "heartbeat"
	// DefaultGroupName 未配置分组的主机归入的分组
	DefaultGroupName = "default"
)

// Metadata 随每条记录一起持久化的任务标识
type Metadata struct {
	AccountID        string `json:"account_id"`
	AppID            string `json:"app_id"`
	ServiceID        string `json:"service_id,omitempty"`
	WorkflowID       string `json:"workflow_id,omitempty"`
	StateExecutionID string `json:"state_execution_id"`
	TaskID           string `json:"task_id"`
	StateType        string `json:"state_type"`
}

// MetricRecord 归一化后的时序记录
type MetricRecord struct {
	Name                 string             `json:"name"`
	Host                 string             `json:"host"`
	GroupName            string             `json:"group_name"`
	Timestamp            time.Time          `json:"timestamp"`
	DataCollectionMinute int                `json:"data_collection_minute"`
	Values               map[string]float64 `json:"values"`
	TaskMetadata         Metadata           `json:"task_metadata"`
}

// Identity 去重用的指标标识（name+host）
func (r MetricRecord) Identity() string {
	return r.Name + r.Host
}

// IsHeartbeat 是否为心跳记录
func (r MetricRecord) IsHeartbeat() bool {
	return r.Name == HeartbeatName
}

// NewHeartbeat 构造某个分组的零值心跳记录
func NewHeartbeat(group string, minute int, ts time.Time, meta Metadata) MetricRecord {
	if group == "" {
		group = DefaultGroupName
	}
	return MetricRecord{
		Name:                 HeartbeatName,
		GroupName:            group,
		Timestamp:            ts,
		DataCollectionMinute: minute,
		Values:               map[string]float64{},
		TaskMetadata:         meta,
	}
}
