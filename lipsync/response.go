package lipsync

import (
	"encoding/json"

	"github.com/BaSui01/visemeflow/types"
	"github.com/BaSui01/visemeflow/viseme"
)

// Response 每帧一条回复：成功时为口型结果，失败时为错误对象
type Response struct {
	Result *viseme.Result
	Err    *types.Error
}

// errorBody 错误回复的线上格式
type errorBody struct {
	Error string          `json:"error"`
	Code  types.ErrorCode `json:"code"`
}

// OK reports whether the response carries a result.
func (r Response) OK() bool {
	return r.Err == nil
}

// MarshalJSON 输出 {"mouthCues":[...],"metadata":{...}} 或 {"error":...,"code":...}
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(errorBody{Error: r.Err.Message, Code: r.Err.Code})
	}
	res := r.Result
	if res == nil {
		res = &viseme.Result{}
	}
	if res.MouthCues == nil {
		cp := *res
		cp.MouthCues = []viseme.MouthCue{}
		res = &cp
	}
	return json.Marshal(res)
}

func errorResponse(err *types.Error) Response {
	return Response{Err: err}
}

func emptyResponse() Response {
	return Response{Result: &viseme.Result{MouthCues: []viseme.MouthCue{}}}
}
