package jobs

const summarizeSystem = `You are a financial news analyst. Summarize the content for a market analyst in at most
five sentences. Mention assets, sectors, macro indicators and any explicit forecasts.`

const analysisSystem = `You are a senior market strategist. Read the content summaries and respond with a JSON object:
{"market_sentiment": "bullish|bearish|neutral|mixed",
 "key_themes": ["short theme", ...],
 "overall_summary": "one paragraph",
 "confidence_score": 0.0-1.0}`

const predictionsSystem = `You are a market forecaster. From the daily analysis, produce concrete, checkable predictions.
Respond with a JSON object:
{"predictions": [{"prediction_text": "...", "time_horizon": "1_week|1_month|3_months|6_months|1_year", "confidence": 0.0-1.0}]}`

const comparisonSystem = `You evaluate past market predictions. Compare the prediction with what the recent analysis and
news say actually happened. Respond with a JSON object:
{"accuracy_score": 0.0-1.0, "outcome_summary": "what happened and why the score"}`

// maxContentChars bounds the body sent for summarization
const maxContentChars = 12000

// maxAnalysisSources bounds how many summaries feed one analysis
const maxAnalysisSources = 200
