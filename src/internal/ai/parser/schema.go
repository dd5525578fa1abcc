package parser

// ResponseSchema 模型被要求遵守的 JSON 格式（JSON Schema 描述）。
// 只用于记录偏差，不用于拒绝响应。
const ResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "overview": {"type": "string"},
    "vulnerabilities": {"type": "array", "items": {"$ref": "#/definitions/item"}},
    "gasOptimizations": {"type": "array", "items": {"$ref": "#/definitions/item"}},
    "codeQuality": {"type": "array", "items": {"$ref": "#/definitions/item"}},
    "securityScore": {"type": "number", "minimum": 0, "maximum": 100},
    "riskLevel": {"type": "string", "enum": ["SAFE", "LOW", "MEDIUM", "HIGH", "CRITICAL"]}
  },
  "required": ["overview", "vulnerabilities", "gasOptimizations", "codeQuality", "securityScore", "riskLevel"],
  "definitions": {
    "item": {
      "type": "object",
      "properties": {
        "title": {"type": "string"},
        "severity": {"type": "string", "enum": ["CRITICAL", "HIGH", "MEDIUM", "LOW", "INFO"]},
        "description": {"type": "string"},
        "codeReference": {"type": ["string", "integer"]},
        "recommendation": {"type": "string"}
      },
      "required": ["title", "severity", "description"]
    }
  }
}`

// GetExpectedJSONSchema 返回给模型看的示例格式
func GetExpectedJSONSchema() string {
	return `{
  "overview": "Overall security assessment of the contract",
  "vulnerabilities": [
    {
      "title": "Reentrancy in withdraw",
      "severity": "CRITICAL|HIGH|MEDIUM|LOW|INFO",
      "description": "Detailed description of the issue",
      "codeReference": "42 or the relevant code snippet",
      "recommendation": "How to fix this issue"
    }
  ],
  "gasOptimizations": [ { "title": "...", "severity": "LOW", "description": "...", "codeReference": "...", "recommendation": "..." } ],
  "codeQuality": [ { "title": "...", "severity": "INFO", "description": "...", "codeReference": "...", "recommendation": "..." } ],
  "securityScore": 85,
  "riskLevel": "SAFE|LOW|MEDIUM|HIGH|CRITICAL"
}`
}

// GetSchemaInstructions 返回给 AI 的格式说明
func GetSchemaInstructions() string {
	return `Please analyze the smart contract and return your findings in the following JSON format:

` + GetExpectedJSONSchema() + `

Requirements:
1. List every security issue under "vulnerabilities", gas savings under "gasOptimizations",
   and maintainability or style issues under "codeQuality".
2. For each item:
   - Give a short title naming the issue and the affected function
   - Assign severity: CRITICAL (direct loss of funds or control), HIGH (serious security issue),
     MEDIUM (exploitable under conditions), LOW (minor issue), INFO (informational)
   - Describe the issue in detail
   - Reference the line number or quote the relevant code
   - Provide a concrete recommendation
3. Provide an overall "overview" of the contract's security posture.
4. Give a "securityScore" from 0 to 100 (100 being safest) and a "riskLevel".

Return ONLY the JSON object, without any additional text or markdown formatting.`
}
