package cache

import (
	"encoding/hex"
	"encoding/json"

	"github.com/zeebo/blake3"
)

// Key 计算 (method, endpoint, args) 的缓存键
//
// args 先序列化为 JSON 再解码成通用结构重新序列化，map 的键因此按字典序输出，
// 参数顺序不同但逻辑相同的调用得到同一个键。
func Key(method, endpoint string, args any) string {
	h := blake3.New()
	_, _ = h.Write([]byte(method))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(endpoint))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(canonicalJSON(args))
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalJSON(args any) []byte {
	if args == nil {
		return []byte("null")
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return []byte("unserializable")
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return raw
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return raw
	}
	return out
}

// IsErrorShaped 判断响应体是否不可缓存：空、非法 JSON、带 error 字段的对象或 success 为 false
func IsErrorShaped(body []byte) bool {
	if len(body) == 0 || !json.Valid(body) {
		return true
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		// 数组或标量
		return false
	}
	if v, ok := obj["error"]; ok && string(v) != "null" {
		return true
	}
	if v, ok := obj["success"]; ok && string(v) == "false" {
		return true
	}
	return false
}
