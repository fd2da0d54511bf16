/*
Package types defines the core data structures shared across Nimbus:
resource units, instances, groups, schedule queue items, object
references, and the affinity selector grammar.

These types are intentionally free of behavior beyond small helpers
(QueueItem's completion channel, ResourceUnit.Available) — the
packages that consume them (pkg/scheduler, pkg/groupmanager,
pkg/objectstore, pkg/preemption) own all decision logic.

# Affinity grammar

An AffinitySelector is a disjunction of AffinityTerms; each term is a
conjunction of LabelExpressions. Required selectors hard-filter
candidates; preferred selectors contribute a weighted score. The same
grammar applies at the resource-unit level (which unit) and the
instance level (which peers), and again in its anti-affinity form.
*/
package types
