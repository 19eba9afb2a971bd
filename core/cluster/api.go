package cluster

const MsgNodeInfo = "fanout.node.info"

type (
	GetNodeInfoRequest struct{}

	GetNodeInfoResponse struct {
		NodeID string   `json:"node_id"`
		Shards []uint32 `json:"shards"`
	}
)

func (GetNodeInfoRequest) MsgType() string { return MsgNodeInfo }
