package engine

// Scoring model.
//
// Every memory carries a weighted_access_score. It starts at
// InitialSpecificity(k of the last retrieval) and grows by AccessSpecificity(k)
// each time a retrieval of breadth k selects it. It never decreases.
//
// Specificity is max(0.1, 1 - k/K_MAX): broad retrievals boost each item less.
//
// Eviction uses TrimScore, which grows linearly with age and time since last
// access and is damped by ln(score + C_USAGE). The Trimmer deletes anything
// above TRIM_THRESHOLD, one page at a time, on the Scheduler's cron spec.
