package milvus

import (
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	// DefaultCollection 默认集合名称
	DefaultCollection = "plot_vectors"

	FieldEntityID   = "entity_id"
	FieldVector     = "vector"
	FieldProjectID  = "project_id"
	FieldEntityType = "entity_type"
	FieldTitle      = "title"
	FieldText       = "text"
	FieldUpdatedAt  = "updated_at"
	FieldAttributes = "attributes"

	maxIDLength    = 64
	maxTitleLength = 512
	maxTextLength  = 65535
)

// outputFields 检索时返回的标量字段
var outputFields = []string{FieldEntityID, FieldEntityType, FieldTitle, FieldText, FieldUpdatedAt, FieldAttributes}

func varchar(name string, maxLen int) *entity.Field {
	return &entity.Field{
		Name:       name,
		DataType:   entity.FieldTypeVarChar,
		TypeParams: map[string]string{"max_length": strconv.Itoa(maxLen)},
	}
}

// PlotVectorsSchema 实体向量集合 Schema，每个实体一行
func PlotVectorsSchema(collection string, dimension int) *entity.Schema {
	pk := varchar(FieldEntityID, maxIDLength)
	pk.PrimaryKey = true
	pk.AutoID = false

	return &entity.Schema{
		CollectionName: collection,
		Description:    "Story entity vectors for plot context retrieval",
		Fields: []*entity.Field{
			pk,
			{
				Name:       FieldVector,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(dimension)},
			},
			varchar(FieldProjectID, maxIDLength),
			varchar(FieldEntityType, 32),
			varchar(FieldTitle, maxTitleLength),
			varchar(FieldText, maxTextLength),
			{Name: FieldUpdatedAt, DataType: entity.FieldTypeInt64},
			{Name: FieldAttributes, DataType: entity.FieldTypeJSON},
		},
	}
}

// PartitionName 项目分区名称，仅保留字母数字与下划线
func PartitionName(projectID string) string {
	var sb strings.Builder
	sb.WriteString("proj_")
	for _, r := range projectID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
