package api

import "github.com/xeipuuv/gojsonschema"

const startApprovalSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["applicantId", "applicationName", "referenceUrl"],
  "properties": {
    "applicantId": { "type": "string", "minLength": 1 },
    "applicationName": { "type": "string", "minLength": 1 },
    "referenceUrl": { "type": "string", "minLength": 1 },
    "approvalType": { "type": "string" }
  },
  "additionalProperties": false
}`

const approvalResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["approved"],
  "properties": {
    "approved": { "type": "boolean" }
  },
  "additionalProperties": false
}`

var (
	startApprovalLoader    = gojsonschema.NewStringLoader(startApprovalSchema)
	approvalResponseLoader = gojsonschema.NewStringLoader(approvalResponseSchema)
)
