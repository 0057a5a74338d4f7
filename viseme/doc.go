// Package viseme 定义口型提示（mouth cue）模型以及 rhubarb 口型字母与数字
// viseme ID 之间的静态映射表。映射表在包初始化时构建一次，此后只读，
// 所有会话并发共享，无需加锁。
package viseme
