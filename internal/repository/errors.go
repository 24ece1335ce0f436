package repository

import "errors"

var (
	// ErrNotFound 表示按 ID 查找的项目或会话不存在。
	ErrNotFound = errors.New("record not found")
	// ErrInvalidRole 表示消息角色不是 user 或 assistant。
	ErrInvalidRole = errors.New("invalid message role")
)
