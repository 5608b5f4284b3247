// Package prompt holds the LLM prompt templates for every investigation
// phase and the builders that fill them. Templates use literal {name}
// placeholders; substitution is plain text, never re-entrant. The JSON
// shapes embedded here are the exact shapes the parser package accepts.
package prompt

const triageTemplate = `You are an experienced SRE triaging a production incident.

## Query
{query}
{incident_context}{knowledge_context}
Assess the situation. Respond with ONLY a JSON object:

` + "```json" + `
{
  "summary": "one-paragraph assessment",
  "severity": "low|medium|high|critical",
  "affected_services": ["service-a"],
  "symptoms": ["what is observably wrong"],
  "error_messages": ["verbatim error strings, if any"],
  "time_window": {"start": "ISO-8601 or empty", "end": "ISO-8601 or empty"},
  "initial_hypotheses": ["rough first guesses, optional"]
}
` + "```" + `

Base severity on user impact, not on noise volume.`

const hypothesizeTemplate = `You are an experienced SRE generating root-cause hypotheses.

## Situation
{summary}

Symptoms:
{symptoms}

Affected services:
{services}
{prior_findings}
Propose up to {max_hypotheses} testable root-cause hypotheses. Each needs
concrete planned queries that would confirm or refute it. Respond with ONLY
a JSON object:

` + "```json" + `
{
  "hypotheses": [
    {
      "statement": "the database connection pool is exhausted",
      "category": "infrastructure|application|dependency|configuration|capacity|security|unknown",
      "priority": 1,
      "planned_queries": [
        {"type": "aws_query", "description": "check RDS connection counts", "service": "checkout-db", "params": {"service": "rds"}}
      ],
      "reasoning": "why this is plausible"
    }
  ],
  "reasoning": "why these hypotheses, in this order"
}
` + "```" + `

Priority 1 is most likely, 5 least. Only reference query types from this list:
{available_tools}`

const evaluateTemplate = `You are an experienced SRE weighing evidence against a hypothesis.

## Hypothesis ({hypothesis_id})
{hypothesis}

## Evidence just gathered
{evidence}

Decide what the evidence shows. Respond with ONLY a JSON object:

` + "```json" + `
{
  "hypothesis_id": "{hypothesis_id}",
  "evidence": "pending|none|weak|strong",
  "confidence": 75,
  "action": "continue|branch|prune|confirm",
  "findings": ["specific observation tied to the evidence"],
  "reasoning": "why this action",
  "sub_hypotheses": []
}
` + "```" + `

Use "confirm" only when confidence is 80 or above. Use "branch" when the
evidence splits the hypothesis into more specific sub-causes; list them in
sub_hypotheses with the same shape as hypothesis generation output.`

const concludeTemplate = `You are an experienced SRE writing the root-cause conclusion of an investigation.

## Query
{query}

## Evidence chain
{findings}

## Tool result summaries
{summaries}

Respond with ONLY a JSON object:

` + "```json" + `
{
  "root_cause": "the single most probable root cause",
  "confidence": "low|medium|high",
  "hypothesis_id": "{hypothesis_id}",
  "evidence_chain": [
    {"finding": "observation", "source": "tool or result id", "strength": "pending|none|weak|strong"}
  ],
  "alternatives": ["plausible alternatives ruled less likely"],
  "unknowns": ["what the evidence could not establish"]
}
` + "```" + `

State only what the evidence supports. If the evidence is inconclusive say
so and use "low" confidence.`

const remediateTemplate = `You are an experienced SRE planning remediation for a diagnosed incident.

## Root cause
{root_cause}

## Available skills (automated workflows)
{skills}
{runbooks}{code_fixes}
Produce an ordered, minimal remediation plan. Respond with ONLY a JSON object:

` + "```json" + `
{
  "steps": [
    {
      "action": "scale_db_pool",
      "description": "raise the connection pool ceiling",
      "command": "aws rds modify-db-parameter-group ...",
      "rollback_command": "aws rds modify-db-parameter-group ...",
      "risk_level": "low|medium|high|critical",
      "requires_approval": true,
      "matching_skill": "scale-db-pool",
      "parameters": {"pool_size": 200}
    }
  ],
  "monitoring": ["what to watch after each step"],
  "estimated_recovery_time": "15m"
}
` + "```" + `

Set matching_skill ONLY when a listed skill actually performs the step.
Steps without a skill must carry the exact command an operator would run.`

const logAnalysisTemplate = `You are an experienced SRE scanning logs for incident signals.

## Log lines ({total_lines} lines)
{logs}

Identify error patterns and what they suggest. Respond with ONLY a JSON object:

` + "```json" + `
{
  "total_lines": {total_lines},
  "pattern_matches": [
    {"pattern": "connection timeout", "count": 14, "severity": "low|medium|high|critical", "example": "one representative line"}
  ],
  "suggested_hypotheses": ["hypothesis statements the patterns support"],
  "summary": "one-paragraph read of the logs"
}
` + "```" + ``

const agentSystemTemplate = `You are an SRE assistant with access to live infrastructure tools.
{knowledge}
## Tools
{tool_descriptions}

## Skills
{skills}

Rules:
- Gather evidence with tools before answering; never guess at live state.
- Tool results are summarized. Use get_full_result with a result id when
  the summary is not enough, and list_results to see everything gathered.
- When you have enough evidence, answer directly without further tool calls.`

const finalAnswerTemplate = `Based on the investigation so far, write the final answer to the user's question.

## Question
{query}

## Gathered evidence (summaries)
{summaries}

Answer directly and concretely. Cite specific numbers and resource names
from the evidence. Do not mention tools or result ids.`

const parseFeedbackTemplate = `{original}

Your previous response could not be parsed: {error}

Respond again with ONLY the JSON object in the exact shape requested above.
No prose before or after the JSON.`
