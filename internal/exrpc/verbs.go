// Append-only, index-stable call ids for every exmdb verb. Reordering
// this list is a wire break.
package exrpc

// CallID identifies an exmdb verb on the wire: the single byte following
// the PDU length prefix.
type CallID uint8

const (
	CallConnect CallID = iota // connect
	CallListenNotification // listen_notification
	CallPingStore // ping_store
	CallGetAllNamedPropids // get_all_named_propids
	CallGetNamedPropids // get_named_propids
	CallGetNamedPropnames // get_named_propnames
	CallGetMappingGuid // get_mapping_guid
	CallGetMappingReplidV1 // get_mapping_replid_v1
	CallGetStoreAllProptags // get_store_all_proptags
	CallGetStoreProperties // get_store_properties
	CallSetStoreProperties // set_store_properties
	CallRemoveStoreProperties // remove_store_properties
	CallGetMboxPerm // get_mbox_perm
	CallGetFolderByClassV1 // get_folder_by_class_v1
	CallSetFolderByClass // set_folder_by_class
	CallGetFolderClassTable // get_folder_class_table
	CallCheckFolderID // check_folder_id
	CallQueryFolderMessages // query_folder_messages
	CallCheckFolderDeleted // check_folder_deleted
	CallGetFolderByName // get_folder_by_name
	CallCheckFolderPermission // check_folder_permission
	CallCreateFolderByProperties // create_folder_by_properties
	CallGetFolderAllProptags // get_folder_all_proptags
	CallGetFolderProperties // get_folder_properties
	CallSetFolderProperties // set_folder_properties
	CallRemoveFolderProperties // remove_folder_properties
	CallDeleteFolder // delete_folder
	CallEmptyFolderV1 // empty_folder_v1
	CallCheckFolderCycle // check_folder_cycle
	CallCopyFolderInternal // copy_folder_internal
	CallGetSearchCriteria // get_search_criteria
	CallSetSearchCriteria // set_search_criteria
	CallMovecopyMessage // movecopy_message
	CallMovecopyMessages // movecopy_messages
	CallMovecopyFolderV1 // movecopy_folder_v1
	CallDeleteMessages // delete_messages
	CallGetMessageBrief // get_message_brief
	CallSumHierarchy // sum_hierarchy
	CallLoadHierarchyTable // load_hierarchy_table
	CallSumContent // sum_content
	CallLoadContentTable // load_content_table
	CallLoadPermTableV1 // load_perm_table_v1
	CallLoadRuleTable // load_rule_table
	CallUnloadTable // unload_table
	CallSumTable // sum_table
	CallQueryTable // query_table
	CallMatchTable // match_table
	CallLocateTable // locate_table
	CallReadTableRow // read_table_row
	CallMarkTable // mark_table
	CallGetTableAllProptags // get_table_all_proptags
	CallExpandTable // expand_table
	CallCollapseTable // collapse_table
	CallStoreTableState // store_table_state
	CallRestoreTableState // restore_table_state
	CallCheckMessage // check_message
	CallCheckMessageDeleted // check_message_deleted
	CallLoadMessageInstance // load_message_instance
	CallLoadEmbeddedInstance // load_embedded_instance
	CallGetEmbeddedCn // get_embedded_cn
	CallReloadMessageInstance // reload_message_instance
	CallClearMessageInstance // clear_message_instance
	CallReadMessageInstance // read_message_instance
	CallWriteMessageInstanceV1 // write_message_instance_v1
	CallLoadAttachmentInstance // load_attachment_instance
	CallCreateAttachmentInstance // create_attachment_instance
	CallReadAttachmentInstance // read_attachment_instance
	CallWriteAttachmentInstance // write_attachment_instance
	CallDeleteMessageInstanceAttachment // delete_message_instance_attachment
	CallFlushInstanceV1 // flush_instance_v1
	CallUnloadInstance // unload_instance
	CallGetInstanceAllProptags // get_instance_all_proptags
	CallGetInstanceProperties // get_instance_properties
	CallSetInstanceProperties // set_instance_properties
	CallRemoveInstanceProperties // remove_instance_properties
	CallCheckInstanceCycle // check_instance_cycle
	CallEmptyMessageInstanceRcpts // empty_message_instance_rcpts
	CallGetMessageInstanceRcptsNum // get_message_instance_rcpts_num
	CallGetMessageInstanceRcptsAllProptags // get_message_instance_rcpts_all_proptags
	CallGetMessageInstanceRcpts // get_message_instance_rcpts
	CallUpdateMessageInstanceRcpts // update_message_instance_rcpts
	CallEmptyMessageInstanceAttachments // empty_message_instance_attachments
	CallGetMessageInstanceAttachmentsNum // get_message_instance_attachments_num
	CallGetMessageInstanceAttachmentTableAllProptags // get_message_instance_attachment_table_all_proptags
	CallQueryMessageInstanceAttachmentTable // query_message_instance_attachment_table
	CallSetMessageInstanceConflict // set_message_instance_conflict
	CallGetMessageRcpts // get_message_rcpts
	CallGetMessageProperties // get_message_properties
	CallSetMessageProperties // set_message_properties
	CallSetMessageReadState // set_message_read_state
	CallRemoveMessageProperties // remove_message_properties
	CallAllocateMessageID // allocate_message_id
	CallAllocateCn // allocate_cn
	CallMarkModified // mark_modified
	CallGetMessageGroupID // get_message_group_id
	CallSetMessageGroupID // set_message_group_id
	CallSaveChangeIndices // save_change_indices
	CallGetChangeIndices // get_change_indices
	CallTryMarkSubmit // try_mark_submit
	CallClearSubmit // clear_submit
	CallLinkMessage // link_message
	CallUnlinkMessage // unlink_message
	CallRuleNewMessage // rule_new_message
	CallSetMessageTimer // set_message_timer
	CallGetMessageTimer // get_message_timer
	CallEmptyFolderPermission // empty_folder_permission
	CallUpdateFolderPermission // update_folder_permission
	CallEmptyFolderRule // empty_folder_rule
	CallUpdateFolderRule // update_folder_rule
	CallDeliverMessageV1 // deliver_message_v1
	CallWriteMessage // write_message
	CallReadMessage // read_message
	CallGetContentSync // get_content_sync
	CallGetHierarchySync // get_hierarchy_sync
	CallAllocateIDS // allocate_ids
	CallSubscribeNotification // subscribe_notification
	CallUnsubscribeNotification // unsubscribe_notification
	CallTransportNewMail // transport_new_mail
	CallReloadContentTable // reload_content_table
	CallCopyInstanceRcpts // copy_instance_rcpts
	CallCopyInstanceAttachments // copy_instance_attachments
	CallCheckContactAddress // check_contact_address
	CallGetPublicFolderUnreadCount // get_public_folder_unread_count
	CallVacuum // vacuum
	CallGetFolderByClass // get_folder_by_class
	CallLoadPermissionTable // load_permission_table
	CallWriteMessageInstance // write_message_instance
	CallFlushInstance // flush_instance
	CallUnloadStore // unload_store
	CallDeliverMessage // deliver_message
	CallNotifyNewMail // notify_new_mail
	CallStoreEidToUser // store_eid_to_user
	CallEmptyFolder // empty_folder
	CallPurgeSoftdelete // purge_softdelete
	CallPurgeDatafiles // purge_datafiles
	CallAutoreplyTsquery // autoreply_tsquery
	CallAutoreplyTsupdate // autoreply_tsupdate
	CallGetMappingReplid // get_mapping_replid
	CallRecalcStoreSize // recalc_store_size
	CallMovecopyFolder // movecopy_folder
	CallCreateFolder // create_folder
	CallWriteMessageV2 // write_message_v2
	CallImapfileRead // imapfile_read
	CallImapfileWrite // imapfile_write
	CallImapfileDelete // imapfile_delete
	CallCgkreset // cgkreset
)

// callNames is indexed by CallID; callNames[i] is the verb's canonical
// wire name.
var callNames = [...]string{
	"connect",
	"listen_notification",
	"ping_store",
	"get_all_named_propids",
	"get_named_propids",
	"get_named_propnames",
	"get_mapping_guid",
	"get_mapping_replid_v1",
	"get_store_all_proptags",
	"get_store_properties",
	"set_store_properties",
	"remove_store_properties",
	"get_mbox_perm",
	"get_folder_by_class_v1",
	"set_folder_by_class",
	"get_folder_class_table",
	"check_folder_id",
	"query_folder_messages",
	"check_folder_deleted",
	"get_folder_by_name",
	"check_folder_permission",
	"create_folder_by_properties",
	"get_folder_all_proptags",
	"get_folder_properties",
	"set_folder_properties",
	"remove_folder_properties",
	"delete_folder",
	"empty_folder_v1",
	"check_folder_cycle",
	"copy_folder_internal",
	"get_search_criteria",
	"set_search_criteria",
	"movecopy_message",
	"movecopy_messages",
	"movecopy_folder_v1",
	"delete_messages",
	"get_message_brief",
	"sum_hierarchy",
	"load_hierarchy_table",
	"sum_content",
	"load_content_table",
	"load_perm_table_v1",
	"load_rule_table",
	"unload_table",
	"sum_table",
	"query_table",
	"match_table",
	"locate_table",
	"read_table_row",
	"mark_table",
	"get_table_all_proptags",
	"expand_table",
	"collapse_table",
	"store_table_state",
	"restore_table_state",
	"check_message",
	"check_message_deleted",
	"load_message_instance",
	"load_embedded_instance",
	"get_embedded_cn",
	"reload_message_instance",
	"clear_message_instance",
	"read_message_instance",
	"write_message_instance_v1",
	"load_attachment_instance",
	"create_attachment_instance",
	"read_attachment_instance",
	"write_attachment_instance",
	"delete_message_instance_attachment",
	"flush_instance_v1",
	"unload_instance",
	"get_instance_all_proptags",
	"get_instance_properties",
	"set_instance_properties",
	"remove_instance_properties",
	"check_instance_cycle",
	"empty_message_instance_rcpts",
	"get_message_instance_rcpts_num",
	"get_message_instance_rcpts_all_proptags",
	"get_message_instance_rcpts",
	"update_message_instance_rcpts",
	"empty_message_instance_attachments",
	"get_message_instance_attachments_num",
	"get_message_instance_attachment_table_all_proptags",
	"query_message_instance_attachment_table",
	"set_message_instance_conflict",
	"get_message_rcpts",
	"get_message_properties",
	"set_message_properties",
	"set_message_read_state",
	"remove_message_properties",
	"allocate_message_id",
	"allocate_cn",
	"mark_modified",
	"get_message_group_id",
	"set_message_group_id",
	"save_change_indices",
	"get_change_indices",
	"try_mark_submit",
	"clear_submit",
	"link_message",
	"unlink_message",
	"rule_new_message",
	"set_message_timer",
	"get_message_timer",
	"empty_folder_permission",
	"update_folder_permission",
	"empty_folder_rule",
	"update_folder_rule",
	"deliver_message_v1",
	"write_message",
	"read_message",
	"get_content_sync",
	"get_hierarchy_sync",
	"allocate_ids",
	"subscribe_notification",
	"unsubscribe_notification",
	"transport_new_mail",
	"reload_content_table",
	"copy_instance_rcpts",
	"copy_instance_attachments",
	"check_contact_address",
	"get_public_folder_unread_count",
	"vacuum",
	"get_folder_by_class",
	"load_permission_table",
	"write_message_instance",
	"flush_instance",
	"unload_store",
	"deliver_message",
	"notify_new_mail",
	"store_eid_to_user",
	"empty_folder",
	"purge_softdelete",
	"purge_datafiles",
	"autoreply_tsquery",
	"autoreply_tsupdate",
	"get_mapping_replid",
	"recalc_store_size",
	"movecopy_folder",
	"create_folder",
	"write_message_v2",
	"imapfile_read",
	"imapfile_write",
	"imapfile_delete",
	"cgkreset",
}

// Name returns id's verb name, or "" if id is out of range (an unknown
// opnum, which the protocol layer maps to bad_switch).
func (id CallID) Name() string {
	if int(id) >= len(callNames) {
		return ""
	}
	return callNames[id]
}

// MaxCallID is the highest valid CallID; anything past it is bad_switch.
const MaxCallID CallID = 145

