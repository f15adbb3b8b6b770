package executor

import (
	"context"
	"strings"

	"github.com/greengrass-lite/ggdeploymentd/internal/configstore"
	"github.com/greengrass-lite/ggdeploymentd/internal/ggerr"
	"github.com/greengrass-lite/ggdeploymentd/internal/model"
)

// maxConfigArnEntries caps services.<name>.configArn at 100 entries.
const maxConfigArnEntries = 100

// applyConfigurationUpdate runs a component's configurationUpdate.reset
// then merge against its configuration subtree. Reset entries
// are JSON-pointer strings relative to services.<name>.configuration; an
// empty pointer deletes the whole subtree.
func (e *Executor) applyConfigurationUpdate(ctx context.Context, name string, cu *model.ConfigurationUpdate) error {
	if cu == nil {
		return nil
	}

	base := configstore.Path("services", name, "configuration")
	for _, pointer := range cu.Reset {
		key := base
		if trimmed := strings.Trim(pointer, "/"); trimmed != "" {
			key = configstore.Path(append([]string{base}, strings.Split(trimmed, "/")...)...)
		}
		if err := e.store.Delete(ctx, key); err != nil {
			return ggerr.Wrap(ggerr.Failure, "apply configuration reset for "+name, err)
		}
	}

	var merge func(key string, m map[string]interface{}) error
	merge = func(key string, m map[string]interface{}) error {
		for k, v := range m {
			var err error
			if sub, ok := v.(map[string]interface{}); ok {
				err = merge(configstore.Path(key, k), sub)
			} else {
				err = e.store.Put(ctx, configstore.Path(key, k), v)
			}
			if err != nil {
				return err
			}
		}
		return nil
	}
	if cu.Merge != nil {
		if err := merge(base, cu.Merge); err != nil {
			return ggerr.Wrap(ggerr.Failure, "apply configuration merge for "+name, err)
		}
	}
	return nil
}

// appendConfigArn appends arn to services.<name>.configArn, deduplicating
// by the substring preceding the final ":" (the version suffix stripped)
// and replacing an existing entry in place rather than appending a
// duplicate, capped at maxConfigArnEntries.
func (e *Executor) appendConfigArn(ctx context.Context, name, arn string) error {
	if arn == "" {
		return nil
	}

	key := configstore.Path("services", name, "configArn")
	var list []string
	_ = e.store.Get(ctx, key, &list)

	prefix := arnVersionlessPrefix(arn)
	replaced := false
	for i, existing := range list {
		if arnVersionlessPrefix(existing) == prefix {
			list[i] = arn
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, arn)
	}
	if len(list) > maxConfigArnEntries {
		list = list[len(list)-maxConfigArnEntries:]
	}

	if err := e.store.Put(ctx, key, list); err != nil {
		return ggerr.Wrap(ggerr.Failure, "append configArn for "+name, err)
	}
	return nil
}

func arnVersionlessPrefix(arn string) string {
	if idx := strings.LastIndex(arn, ":"); idx >= 0 {
		return arn[:idx]
	}
	return arn
}
