package postgres

const vehicleColumns = `
id, license_plate, vehicle_type, capacity, model, status, route_id, route_cleared_at,
cur_lat, cur_lng, cur_accuracy, prev_lat, prev_lng, prev_accuracy,
speed_kmh, bearing_degrees, last_update_at, odometer_meters, version, created_at, updated_at`

const vehicleSelectByIDSQL = `SELECT` + vehicleColumns + `
FROM vehicles
WHERE id = $1
`

const vehicleSelectByIDForUpdateSQL = vehicleSelectByIDSQL + " FOR UPDATE"

const vehicleSelectByPlateSQL = `SELECT` + vehicleColumns + `
FROM vehicles
WHERE lower(license_plate) = lower($1)
`

const vehicleListSQL = `SELECT` + vehicleColumns + `
FROM vehicles
WHERE ($1::text IS NULL OR status = $1)
ORDER BY created_at, id
LIMIT $2 OFFSET $3
`

const vehicleInsertSQL = `
INSERT INTO vehicles (` + vehicleColumns + `
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,
  $9,$10,$11,$12,$13,$14,
  $15,$16,$17,$18,$19,$20,$21
)
`

// vehicleUpdateSQL only matches the row when the stored version equals $20.
const vehicleUpdateSQL = `
UPDATE vehicles SET
  license_plate = $1,
  vehicle_type = $2,
  capacity = $3,
  model = $4,
  status = $5,
  route_id = $6,
  route_cleared_at = $7,
  cur_lat = $8,
  cur_lng = $9,
  cur_accuracy = $10,
  prev_lat = $11,
  prev_lng = $12,
  prev_accuracy = $13,
  speed_kmh = $14,
  bearing_degrees = $15,
  last_update_at = $16,
  odometer_meters = $17,
  updated_at = $18,
  version = $20 + 1
WHERE id = $19 AND version = $20
`

const sessionColumns = `
id, vehicle_id, route_id, driver_id, status,
max_duration_ns, max_fix_age_ns, max_future_skew_ns, max_accuracy_meters, high_accuracy_meters, max_points,
started_at, ended_at, start_location, current_location, current_speed_kmh, current_bearing,
last_fix_at, last_update_at, total_distance_meters, max_speed_kmh, average_speed_kmh, accuracy_percent,
points_received, points_valid, points_filtered, points_high_accuracy, points,
version, created_at, updated_at`

const sessionSelectByIDSQL = `SELECT` + sessionColumns + `
FROM tracking_sessions
WHERE id = $1
`

const sessionSelectByIDForUpdateSQL = sessionSelectByIDSQL + " FOR UPDATE"

const sessionSelectOpenForVehicleSQL = `SELECT` + sessionColumns + `
FROM tracking_sessions
WHERE vehicle_id = $1 AND status <> 'ENDED'
FOR UPDATE
`

const sessionInsertSQL = `
INSERT INTO tracking_sessions (` + sessionColumns + `
) VALUES (
  $1,$2,$3,$4,$5,
  $6,$7,$8,$9,$10,$11,
  $12,$13,$14,$15,$16,$17,
  $18,$19,$20,$21,$22,$23,
  $24,$25,$26,$27,$28,
  $29,$30,$31
)
`

// sessionUpdateSQL only matches the row when the stored version equals $21.
const sessionUpdateSQL = `
UPDATE tracking_sessions SET
  status = $1,
  started_at = $2,
  ended_at = $3,
  start_location = $4,
  current_location = $5,
  current_speed_kmh = $6,
  current_bearing = $7,
  last_fix_at = $8,
  last_update_at = $9,
  total_distance_meters = $10,
  max_speed_kmh = $11,
  average_speed_kmh = $12,
  accuracy_percent = $13,
  points_received = $14,
  points_valid = $15,
  points_filtered = $16,
  points_high_accuracy = $17,
  points = $18,
  updated_at = $19,
  version = $21 + 1
WHERE id = $20 AND version = $21
`

const outboxInsertSQL = `
INSERT INTO outbox_events (
  id, event_type, aggregate_type, aggregate_id, payload, occurred_at
) VALUES ($1,$2,$3,$4,$5,$6)
`

const outboxFetchPendingSQL = `
SELECT id, event_type, aggregate_type, aggregate_id, payload, occurred_at, attempts
FROM outbox_events
WHERE published_at IS NULL
ORDER BY attempts, occurred_at, id
LIMIT $1
`

const outboxMarkFailedSQL = `
UPDATE outbox_events
SET attempts = attempts + 1, last_error = $2
WHERE id = $1 AND published_at IS NULL
`

const outboxMarkPublishedSQL = `
UPDATE outbox_events
SET published_at = now()
WHERE id = ANY($1::uuid[])
`
