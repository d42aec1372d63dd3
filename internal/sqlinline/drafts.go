package sqlinline

const QUpsertDraft = `--sql 3f6c1d2a-94b7-4e0c-8a5d-217f3b9ce4d8
insert into wizard_drafts (draft_id, flow_id, status, payload, updated_at)
values ($1::uuid, $2::text, $3::text, $4::jsonb, now())
on conflict (draft_id) do update set
    flow_id = excluded.flow_id,
    status = excluded.status,
    payload = excluded.payload,
    updated_at = now();
`

const QSelectDraft = `--sql a1e8f403-6c52-47d9-b3a8-0d94c7e12f65
select payload, updated_at
from wizard_drafts
where draft_id = $1::uuid
limit 1;
`

const QDeleteDraft = `--sql c7b92e15-08dd-4a36-9f41-5e2a8d60cb73
delete from wizard_drafts
where draft_id = $1::uuid;
`

const QSelectExpiredDrafts = `--sql 58d0a7f9-2b14-4c88-a6e3-97f01b3d54ea
select draft_id, payload, updated_at
from wizard_drafts
where updated_at < $1::timestamptz
order by updated_at asc
limit $2::int;
`
