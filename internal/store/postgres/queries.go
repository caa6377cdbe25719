package postgres

const eventColumns = `
    id, group_id, name, status, auto_start, start_time, end_time,
    schedule_version, created_at, updated_at`

const queryGetEvent = `
SELECT` + eventColumns + `
FROM events
WHERE id = $1
`

const queryGetEventForUpdate = `
SELECT` + eventColumns + `
FROM events
WHERE id = $1
FOR UPDATE
`

const queryListSchedulableEvents = `
SELECT` + eventColumns + `
FROM events
WHERE status IN ('announced', 'preliminary', 'started')
  AND end_time IS NOT NULL
  AND end_time > $1
ORDER BY id
LIMIT $2 OFFSET $3
`

const queryUpdateEventSchedule = `
UPDATE events
SET start_time = $2, end_time = $3, schedule_version = $4, updated_at = $5
WHERE id = $1
`

const queryUpdateEventStatus = `
UPDATE events
SET status = $2, updated_at = $3
WHERE id = $1
`

const queryGetGroup = `
SELECT id, name FROM groups WHERE id = $1
`

const queryGetUser = `
SELECT id, username, COALESCE(push_endpoint, ''), COALESCE(push_secret, '')
FROM users
WHERE id = $1
`

// The filter argument selects one preference column; '' matches every follower.
const queryListFollowers = `
SELECT user_id, subject_id, subject_type, at_start, at_thirty_minutes, at_one_hour, at_one_day
FROM follows
WHERE subject_id = $1
  AND subject_type = $2
  AND CASE $3::text
      WHEN 'at_start' THEN at_start
      WHEN 'at_thirty_minutes' THEN at_thirty_minutes
      WHEN 'at_one_hour' THEN at_one_hour
      WHEN 'at_one_day' THEN at_one_day
      ELSE TRUE
  END
ORDER BY user_id
`

const notificationColumns = `
    id, recipient_id, subject_id, subject_type, kind, title, description, created_at, read`

const queryGetNotification = `
SELECT` + notificationColumns + `
FROM notifications
WHERE id = $1
`

const queryListNotifications = `
SELECT` + notificationColumns + `
FROM notifications
WHERE recipient_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`

const queryMarkNotificationRead = `
UPDATE notifications
SET read = true
WHERE id = $1 AND recipient_id = $2
`

const queryGetParticipant = `
SELECT event_id, user_id, status, updated_at
FROM event_participants
WHERE event_id = $1 AND user_id = $2
`

const queryUpsertParticipant = `
INSERT INTO event_participants (event_id, user_id, status, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (event_id, user_id)
DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
`
