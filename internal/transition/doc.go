// Package transition applies recipes: it diffs the running devices against
// a target recipe, drains what has to go, starts what is new, restarts what
// changed, and commits the recipe as active once everything runs.
//
// Failures are per device. One device failing to validate or start never
// stops the others; it shows up in the Report and keeps the previously
// committed recipe as the active one.
package transition
