// Package llm 封装语言模型服务协作方：文本补全与嵌入生成。
// 管线内所有 LLM 调用都通过 Provider 接口注入，不使用全局客户端。
package llm
