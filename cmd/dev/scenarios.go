package main

import "gorisk/internal/testkit"

// seedScenarios are written by the seed command, keyed by file name.
var seedScenarios = map[string]string{
	"data_breach.yaml": testkit.BreachScenarioYAML,
	"service_outage.yaml": `
name: service_outage
description: Yearly cost of unplanned downtime
parameters:
  - name: outages_per_year
    distribution: gamma
    params: {shape: 3, rate: 1.5}
  - name: hours_per_outage
    distribution: triangular
    params: {low: 0.5, mode: 2, high: 12}
  - name: cost_per_hour
    distribution: lognormal
    params: {mu: 9, sigma: 0.4}
simulation:
  risk_function: product
  samples: 20000
  method: quasi_random
  seed: 101
  tolerance: 0.02
  early_stop: true
mcmc:
  log_density: prior
  chains: 4
  draws: 1000
  tune: 500
  seed: 102
`,
	"supplier_failure.yaml": `
name: supplier_failure
description: Loss from supplier failure, stratified by supplier tier
parameters:
  - name: tier
    distribution: categorical
    params: {p0: 0.6, p1: 0.3, p2: 0.1}
  - name: delay_weeks
    distribution: exponential
    params: {rate: 0.5}
  - name: weekly_loss
    distribution: normal
    params: {mean: 50000, std: 10000}
simulation:
  risk_function: sum
  samples: 9000
  method: stratified
  stratify_by: tier
  allocation: proportional
  seed: 201
`,
}
